package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
)

// JobService は発掘ジョブの操作です
type JobService interface {
	Submit(ctx context.Context, repository string, opts domain.JobOptions) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context) ([]domain.JobSummary, error)
	Report(ctx context.Context, id string) (*domain.ExcavationResult, error)
}

// EventSource は直近のアクティビティを返します
type EventSource interface {
	Recent(limit int) []domain.Event
}

// Health はヘルスチェックで返す情報です
type Health struct {
	StoreBackend domain.StoreBackend
	Model        string
}

// defaultEventLimit は limit 省略時のイベント件数
const defaultEventLimit = 20

// submitRequest はジョブ投入のリクエストボディ
type submitRequest struct {
	Repository string            `json:"repository"`
	Options    domain.JobOptions `json:"options"`
}

// submitResponse はジョブ投入のレスポンス
type submitResponse struct {
	JobID  string           `json:"jobId"`
	Status domain.JobStatus `json:"status"`
}

// Handler は発掘APIのハンドラー
type Handler struct {
	jobs   JobService
	events EventSource
	health Health
	logger *slog.Logger
}

// NewHandler は新しいHandlerを作成
func NewHandler(jobs JobService, events EventSource, health Health, logger *slog.Logger) *Handler {
	return &Handler{jobs: jobs, events: events, health: health, logger: logger}
}

// Register はルートを登録します
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)

	api := e.Group("/api/v1")
	api.POST("/excavations", h.Submit)
	api.GET("/excavations", h.List)
	api.GET("/excavations/:id", h.Get)
	api.GET("/excavations/:id/report", h.Report)
	api.GET("/events", h.Events)
}

// Submit は発掘ジョブを投入
func (h *Handler) Submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	job, err := h.jobs.Submit(c.Request().Context(), req.Repository, req.Options)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": vErr.Error(), "field": vErr.Field})
		}
		return h.internalError(c, "Failed to submit excavation", err)
	}

	return c.JSON(http.StatusAccepted, submitResponse{JobID: job.ID, Status: job.Status})
}

// List はジョブ一覧を取得
func (h *Handler) List(c echo.Context) error {
	jobs, err := h.jobs.List(c.Request().Context())
	if err != nil {
		return h.internalError(c, "Failed to list excavations", err)
	}
	return c.JSON(http.StatusOK, jobs)
}

// Get はジョブを取得
func (h *Handler) Get(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		return h.internalError(c, "Failed to get excavation", err)
	}
	return c.JSON(http.StatusOK, job)
}

// Report は完了したジョブのレポートを取得
func (h *Handler) Report(c echo.Context) error {
	report, err := h.jobs.Report(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		var notReady *domain.ReportNotReadyError
		if errors.As(err, &notReady) {
			body := map[string]any{
				"error":  "report is not available",
				"jobId":  notReady.JobID,
				"status": notReady.Status,
			}
			if notReady.JobError != nil {
				body["jobError"] = *notReady.JobError
			}
			return c.JSON(http.StatusConflict, body)
		}
		return h.internalError(c, "Failed to get excavation report", err)
	}
	return c.JSON(http.StatusOK, report)
}

// Events は直近のアクティビティを取得
func (h *Handler) Events(c echo.Context) error {
	limit := defaultEventLimit
	if l := c.QueryParam("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		}
		limit = parsed
	}
	return c.JSON(http.StatusOK, h.events.Recent(limit))
}

// Health はヘルスチェック
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"storeBackend": string(h.health.StoreBackend),
		"model":        h.health.Model,
	})
}

// internalError は詳細をログに出し、クライアントには汎用メッセージを返します
func (h *Handler) internalError(c echo.Context, msg string, err error) error {
	h.logger.Error(msg, "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
