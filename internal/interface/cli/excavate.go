package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	"github.com/jinford/code-archaeologist/internal/platform/container"
)

// defaultPollInterval はジョブ状態のポーリング間隔
const defaultPollInterval = 2 * time.Second

// jobReader はジョブ状態の参照です
type jobReader interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// ExcavateAction はリポジトリを発掘してレポートを出力するコマンドのアクション
// ジョブはプロセス内で実行し、終端状態になるまでポーリングする
func ExcavateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	repository := cmd.String("repo")
	output := cmd.String("out")
	opts := domain.JobOptions{
		MaxUnits: int(cmd.Int("max-units")),
		Mode:     domain.UnitMode(cmd.String("mode")),
		Ref:      cmd.String("ref"),
		Exclude:  cmd.StringSlice("exclude"),
	}

	// 共通コンテキストの初期化
	// ローカルで実行するため手元のリポジトリも解析できる
	appCtx, err := NewAppContext(ctx, envFile, container.WithLocalRepositories())
	if err != nil {
		return err
	}
	defer appCtx.Close()

	manager := appCtx.Container.JobManager
	log := appCtx.Container.Logger()

	job, err := manager.Submit(ctx, repository, opts)
	if err != nil {
		return fmt.Errorf("発掘ジョブの投入に失敗: %w", err)
	}
	log.Info("Excavation job submitted", "jobID", job.ID, "repository", job.Repository)

	final, err := waitForJob(ctx, manager, job.ID, defaultPollInterval, log)
	if err != nil {
		return err
	}
	if final.Status == domain.JobStatusFailed {
		msg := "unknown error"
		if final.Error != nil {
			msg = *final.Error
		}
		return fmt.Errorf("発掘に失敗しました: %s", msg)
	}

	if err := writeReport(output, os.Stdout, final.Result); err != nil {
		return err
	}

	if err := manager.Wait(ctx, job.ID); err != nil {
		log.Warn("Job task did not finish cleanly", "jobID", job.ID, "error", err)
	}
	return nil
}

// waitForJob はジョブが終端状態になるまでポーリングします
func waitForJob(ctx context.Context, jobs jobReader, id string, interval time.Duration, log *slog.Logger) (*domain.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastProgress := -1
	for {
		job, err := jobs.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ジョブ状態の取得に失敗: %w", err)
		}
		if job.Progress != lastProgress {
			log.Info("Excavation progress", "jobID", id, "status", job.Status, "progress", job.Progress, "step", job.CurrentStep)
			lastProgress = job.Progress
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// writeReport はレポートをJSONで出力します（path が空なら w へ）
func writeReport(path string, w io.Writer, report *domain.ExcavationResult) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("レポートのエンコードに失敗: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err := w.Write(data)
		return err
	}

	absOutput, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("出力パスの解決に失敗: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absOutput), 0o755); err != nil {
		return fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}
	if err := os.WriteFile(absOutput, data, 0o644); err != nil {
		return fmt.Errorf("レポートの書き込みに失敗: %w", err)
	}
	slog.Info("Report written", "path", absOutput)
	return nil
}
