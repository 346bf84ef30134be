package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/llm/domain"
)

// FailureLog は失敗したLLM呼び出しをJSONLファイルに記録します
type FailureLog struct {
	logFile  *os.File
	logMutex sync.Mutex
	enabled  bool
	logger   *slog.Logger
}

// NewFailureLog は新しいFailureLogを作成します
// logDir が空の場合は記録を無効化する
func NewFailureLog(logDir string, logger *slog.Logger) (*FailureLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if logDir == "" {
		return &FailureLog{enabled: false, logger: logger}, nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// 日付ごとにファイルを分ける
	logFileName := fmt.Sprintf("llm_errors_%s.jsonl", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(logDir, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &FailureLog{
		logFile: logFile,
		enabled: true,
		logger:  logger,
	}, nil
}

// Path は記録先のファイルパスを返します（無効時は空文字列）
func (l *FailureLog) Path() string {
	if l.logFile == nil {
		return ""
	}
	return l.logFile.Name()
}

// Close はログファイルを閉じます
func (l *FailureLog) Close() error {
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// RecordFailure は失敗を1行のJSONとして追記します
func (l *FailureLog) RecordFailure(record domain.FailureRecord) error {
	if !l.enabled {
		return nil
	}

	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal failure record: %w", err)
	}

	if _, err := l.logFile.Write(append(jsonBytes, '\n')); err != nil {
		return fmt.Errorf("failed to write failure record: %w", err)
	}

	l.logger.Warn("LLM call failed", "kind", record.Kind, "model", record.Model, "attempts", record.Attempts, "error", record.ErrorMessage)
	return nil
}

var _ domain.FailureRecorder = (*FailureLog)(nil)
