package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	AI          AIConfig
	Solver      SolverConfig    `mapstructure:"solver"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
	CORS        CORSConfig      `mapstructure:"cors"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port string
	Mode string
}

// CredentialsConfig 测验站点登录凭据，进程启动时加载一次，之后只读
// 敏感值：不写日志，不进响应
type CredentialsConfig struct {
	Email  string `mapstructure:"email"`
	Secret string `mapstructure:"secret"`
}

// Resolve 返回 (secret, email)，任一为空视为配置错误
func (c CredentialsConfig) Resolve() (string, string, error) {
	if strings.TrimSpace(c.Secret) == "" || strings.TrimSpace(c.Email) == "" {
		return "", "", fmt.Errorf("credentials missing: secret and email must both be configured")
	}
	return c.Secret, c.Email, nil
}

type BrowserConfig struct {
	ExecPath        string        `mapstructure:"exec_path"`
	Headful         bool          `mapstructure:"headful"` // 默认无头运行
	NoSandbox       bool          `mapstructure:"no_sandbox"`
	NavTimeout      time.Duration `mapstructure:"nav_timeout_seconds"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout_seconds"`
	MaxSessions     int64         `mapstructure:"max_sessions"` // 全服务并发会话上限
	SessionLifetime time.Duration `mapstructure:"session_lifetime_seconds"`
	LoginSelector   string        `mapstructure:"login_selector"`   // 登录表单特征元素
	LoggedInSignal  string        `mapstructure:"logged_in_signal"` // 登录成功后出现的元素
}

type AIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout_seconds"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"` // 单次求解内的并发补全上限
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
}

type SolverConfig struct {
	QuizTimeout        time.Duration `mapstructure:"quiz_timeout_seconds"` // 整个请求的时间预算
	BatchSize          int           `mapstructure:"batch_size"`
	MaxQuizzes         int           `mapstructure:"max_quizzes"` // 测验链最大长度
	ConfirmTimeout     time.Duration `mapstructure:"confirm_timeout_seconds"`
	SubmitSelector     string        `mapstructure:"submit_selector"`
	ConfirmSelector    string        `mapstructure:"confirm_selector"`
	CaptureScreenshots bool          `mapstructure:"capture_screenshots"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("QUIZ_SOLVER")
	viper.AutomaticEnv()

	// Credentials
	viper.BindEnv("credentials.email", "EMAIL")
	viper.BindEnv("credentials.secret", "SECRET")

	// Server
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("server.mode", "SERVER_MODE")

	// AI
	viper.BindEnv("ai.base_url", "AI_BASE_URL")
	viper.BindEnv("ai.api_key", "AI_API_KEY")
	viper.BindEnv("ai.model", "AI_MODEL")

	// Browser
	viper.BindEnv("browser.exec_path", "CHROME_PATH")
	viper.BindEnv("browser.no_sandbox", "CHROME_NO_SANDBOX")

	// Storage
	viper.BindEnv("storage.type", "STORAGE_TYPE")
	viper.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	// 秒数字段统一换算
	cfg.Browser.NavTimeout *= time.Second
	cfg.Browser.LaunchTimeout *= time.Second
	cfg.Browser.SessionLifetime *= time.Second
	cfg.AI.RequestTimeout *= time.Second
	cfg.Solver.QuizTimeout *= time.Second
	cfg.Solver.ConfirmTimeout *= time.Second

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8000"
	}
	if cfg.Browser.NavTimeout <= 0 {
		cfg.Browser.NavTimeout = 8
	}
	if cfg.Browser.LaunchTimeout <= 0 {
		cfg.Browser.LaunchTimeout = 30
	}
	if cfg.Browser.SessionLifetime <= 0 {
		cfg.Browser.SessionLifetime = 300
	}
	if cfg.Browser.MaxSessions <= 0 {
		cfg.Browser.MaxSessions = 4
	}
	if cfg.AI.RequestTimeout <= 0 {
		cfg.AI.RequestTimeout = 60
	}
	if cfg.AI.MaxConcurrent <= 0 {
		cfg.AI.MaxConcurrent = 3
	}
	if cfg.AI.RatePerSecond <= 0 {
		cfg.AI.RatePerSecond = 2
	}
	if cfg.Solver.QuizTimeout <= 0 {
		cfg.Solver.QuizTimeout = 180
	}
	if cfg.Solver.BatchSize <= 0 {
		cfg.Solver.BatchSize = 5
	}
	if cfg.Solver.MaxQuizzes <= 0 {
		cfg.Solver.MaxQuizzes = 10
	}
	if cfg.Solver.ConfirmTimeout <= 0 {
		cfg.Solver.ConfirmTimeout = 10
	}
	if cfg.Solver.SubmitSelector == "" {
		cfg.Solver.SubmitSelector = "button[type=submit], input[type=submit]"
	}
	if cfg.Solver.ConfirmSelector == "" {
		cfg.Solver.ConfirmSelector = ".confirmation, .quiz-result, [data-submitted]"
	}
	if cfg.Browser.LoginSelector == "" {
		cfg.Browser.LoginSelector = "form input[type=password], form input[name=secret]"
	}
	if cfg.Browser.LoggedInSignal == "" {
		cfg.Browser.LoggedInSignal = ".quiz, .question, form.quiz-form"
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		cfg.RateLimit.MaxRequests = 100
	}
	if cfg.RateLimit.WindowMinutes <= 0 {
		cfg.RateLimit.WindowMinutes = 1
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "artifacts"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
}
