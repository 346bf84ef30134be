package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定（DB_HOST が空の場合はインメモリストアで動作）
	Database DatabaseConfig

	// ジョブストア設定
	JobStore JobStoreConfig

	// LLM設定
	LLM LLMConfig

	// 発掘パイプライン設定
	Excavation ExcavationConfig

	// Git設定
	Git GitConfig

	// ログ設定
	Log LogConfig

	// HTTPサーバー設定
	Server ServerConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	ConnectTimeout time.Duration
}

// JobStoreConfig はジョブストアの設定
type JobStoreConfig struct {
	Backend        string // "auto", "memory", "postgres"
	TTL            time.Duration
	ReapInterval   time.Duration
	MemoryCapacity int
}

// LLMConfig はOpenAI互換プロバイダの設定
type LLMConfig struct {
	APIKey            string
	BaseURL           string
	PreferredModels   []string
	RequestsPerMinute int
	ErrorLogDir       string
	Timeout           time.Duration
	Temperature       float64
	MaxTokens         int
}

// ExcavationConfig は発掘パイプラインの設定
type ExcavationConfig struct {
	MaxPromptTokens  int
	MaxUnitsLimit    int
	EventLogCapacity int
	MaxHistory       int
	HistoryDepth     int
}

// GitConfig はGit操作設定
type GitConfig struct {
	WorkDir     string
	SSHKeyPath  string
	SSHPassword string // SSH秘密鍵のパスワード（パスフレーズ）
	// AllowLocalRepositories はサーバー上のローカルディレクトリを解析対象として受け付けるか
	AllowLocalRepositories bool
}

// LogConfig はログ出力設定
type LogConfig struct {
	Level  string
	Format string
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	apiKey := getEnv("LLM_API_KEY", "")
	if apiKey == "" {
		apiKey = getEnv("OPENAI_API_KEY", "")
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", ""),
			Port:           getEnvAsInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "archaeologist"),
			Password:       getEnv("DB_PASSWORD", ""),
			DBName:         getEnv("DB_NAME", "archaeologist"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			ConnectTimeout: getEnvAsDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
		},
		JobStore: JobStoreConfig{
			Backend:        strings.ToLower(getEnv("JOBSTORE_BACKEND", "auto")),
			TTL:            getEnvAsDuration("JOBSTORE_TTL", 24*time.Hour),
			ReapInterval:   getEnvAsDuration("JOBSTORE_REAP_INTERVAL", 10*time.Minute),
			MemoryCapacity: getEnvAsInt("JOBSTORE_MEMORY_CAPACITY", 1000),
		},
		LLM: LLMConfig{
			APIKey:            apiKey,
			BaseURL:           getEnv("LLM_BASE_URL", ""),
			PreferredModels:   getEnvAsList("LLM_PREFERRED_MODELS", nil),
			RequestsPerMinute: getEnvAsInt("LLM_REQUESTS_PER_MINUTE", 0),
			ErrorLogDir:       getEnv("LLM_ERROR_LOG_DIR", ""),
			Timeout:           getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			Temperature:       getEnvAsFloat("LLM_TEMPERATURE", 0.2),
			MaxTokens:         getEnvAsInt("LLM_MAX_TOKENS", 1200),
		},
		Excavation: ExcavationConfig{
			MaxPromptTokens:  getEnvAsInt("EXCAVATION_MAX_PROMPT_TOKENS", 6000),
			MaxUnitsLimit:    getEnvAsInt("EXCAVATION_MAX_UNITS_LIMIT", 200),
			EventLogCapacity: getEnvAsInt("EVENT_LOG_CAPACITY", 100),
			MaxHistory:       getEnvAsInt("EXCAVATION_MAX_HISTORY_COMMITS", 1000),
			HistoryDepth:     getEnvAsInt("EXCAVATION_HISTORY_DEPTH", 5),
		},
		Git: GitConfig{
			WorkDir:     getEnv("GIT_WORK_DIR", os.TempDir()),
			SSHKeyPath:  getEnv("GIT_SSH_KEY_PATH", ""),
			SSHPassword: getEnv("GIT_SSH_PASSWORD", ""),

			AllowLocalRepositories: getEnvAsBool("GIT_ALLOW_LOCAL_REPOSITORIES", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します（"true", "1" など）
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（"30s", "24h" 形式）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数をスライスとして取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
