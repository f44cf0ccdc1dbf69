package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"docRender/internal/tasks"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Drive    DriveConfig    `mapstructure:"drive"`
	Render   RenderConfig   `mapstructure:"render"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Clamd    ClamdConfig    `mapstructure:"clamd"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port int `mapstructure:"port"`
	// PublicBaseURL 用于拼接返回给前端的页面地址，为空时返回相对路径。
	PublicBaseURL string `mapstructure:"public_base_url"`
	// AllowedOrigins 限制 websocket 的来源，为空时只允许同源。
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// InternalSecret 保护 /internal 运维接口，为空时这些接口一律拒绝。
	InternalSecret string `mapstructure:"internal_secret"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Region           string `mapstructure:"region"`
	Bucket           string `mapstructure:"bucket"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// DriveConfig configures the Google Drive document source.
type DriveConfig struct {
	CredentialsFile   string  `mapstructure:"credentials_file"`
	MaxDocumentBytes  int64   `mapstructure:"max_document_bytes"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	MaxRetries        int     `mapstructure:"max_retries"`
}

// RenderConfig tunes the rasterize/process/publish pipeline.
type RenderConfig struct {
	TargetWidth  int           `mapstructure:"target_width"`
	Density      int           `mapstructure:"density"`
	JPEGQuality  int           `mapstructure:"jpeg_quality"`
	Workers      int           `mapstructure:"workers"`
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	ReaperSpec   string        `mapstructure:"reaper_spec"`
}

// AuthConfig holds the publisher credentials and token signing keys.
type AuthConfig struct {
	PrivateKeyPath        string        `mapstructure:"private_key_path"`
	PublicKeyPath         string        `mapstructure:"public_key_path"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	PublisherEmail        string        `mapstructure:"publisher_email"`
	PublisherPasswordHash string        `mapstructure:"publisher_password_hash"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
}

// ClamdConfig 配置可选的病毒扫描服务，Addr 为空表示禁用。
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// WorkerConfig 控制 asynq worker 的并发与指标端口。
type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.public_base_url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "docrender")
	v.SetDefault("database.user", "docrender")
	v.SetDefault("database.password", "docrender")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("minio.bucket", "documents")
	v.SetDefault("minio.bucket_lookup", "path")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("drive.max_document_bytes", 50*1024*1024)
	v.SetDefault("drive.requests_per_second", 8.0)
	v.SetDefault("drive.max_retries", 2)
	v.SetDefault("render.target_width", 1600)
	v.SetDefault("render.density", 150)
	v.SetDefault("render.jpeg_quality", 90)
	v.SetDefault("render.workers", 4)
	v.SetDefault("render.signed_url_ttl", time.Hour)
	v.SetDefault("render.stale_after", 30*time.Minute)
	v.SetDefault("render.reaper_spec", "@every 1m")
	v.SetDefault("auth.access_token_ttl", 24*time.Hour)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.metrics_addr", ":9091")
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                       "API_PORT",
		"api.public_base_url":            "API_PUBLIC_BASE_URL",
		"api.allowed_origins":            "API_ALLOWED_ORIGINS",
		"api.internal_secret":            "API_INTERNAL_SECRET",
		"database.host":                  "DATABASE_HOST",
		"database.port":                  "DATABASE_PORT",
		"database.name":                  "POSTGRES_DB",
		"database.user":                  "POSTGRES_USER",
		"database.password":              "POSTGRES_PASSWORD",
		"database.sslmode":               "DATABASE_SSLMODE",
		"redis.host":                     "REDIS_HOST",
		"redis.port":                     "REDIS_PORT",
		"minio.endpoint":                 "MINIO_ENDPOINT",
		"minio.public_endpoint":          "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":            "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":        "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                  "MINIO_USE_SSL",
		"minio.region":                   "MINIO_REGION",
		"minio.bucket":                   "MINIO_BUCKET",
		"minio.bucket_lookup":            "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":       "MINIO_AUTO_CREATE_BUCKET",
		"drive.credentials_file":         "GOOGLE_APPLICATION_CREDENTIALS",
		"drive.max_document_bytes":       "DRIVE_MAX_DOCUMENT_BYTES",
		"drive.requests_per_second":      "DRIVE_REQUESTS_PER_SECOND",
		"drive.max_retries":              "DRIVE_MAX_RETRIES",
		"render.target_width":            "RENDER_TARGET_WIDTH",
		"render.density":                 "RENDER_DENSITY",
		"render.jpeg_quality":            "RENDER_JPEG_QUALITY",
		"render.workers":                 "RENDER_WORKERS",
		"render.signed_url_ttl":          "RENDER_SIGNED_URL_TTL",
		"render.stale_after":             "RENDER_STALE_AFTER",
		"render.reaper_spec":             "RENDER_REAPER_SPEC",
		"auth.private_key_path":          "AUTH_PRIVATE_KEY_PATH",
		"auth.public_key_path":           "AUTH_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":          "AUTH_ACCESS_TOKEN_TTL",
		"auth.publisher_email":           "PUBLISHER_EMAIL",
		"auth.publisher_password_hash":   "PUBLISHER_PASSWORD_HASH",
		"auth.login_rate_limit_per_hour": "AUTH_LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":      "AUTH_LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":            "AUTH_LOGIN_LOCK_TTL",
		"worker.concurrency":             "WORKER_CONCURRENCY",
		"worker.metrics_addr":            "WORKER_METRICS_ADDR",
		"clamd.addr":                     "CLAMD_ADDR",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.PublicEndpoint == "" {
		return errors.New("minio public endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Drive.MaxDocumentBytes <= 0 {
		return errors.New("drive max document bytes must be positive")
	}
	if cfg.Drive.MaxRetries < 0 {
		return errors.New("drive max retries must not be negative")
	}
	if cfg.Render.TargetWidth <= 0 {
		return errors.New("render target width must be positive")
	}
	if cfg.Render.Density <= 0 {
		return errors.New("render density must be positive")
	}
	if cfg.Render.JPEGQuality < 1 || cfg.Render.JPEGQuality > 100 {
		return errors.New("render jpeg quality must be within 1..100")
	}
	if cfg.Render.Workers <= 0 {
		return errors.New("render workers must be positive")
	}
	if cfg.Render.SignedURLTTL <= 0 {
		return errors.New("render signed url ttl must be positive")
	}
	// 回收阈值不能短于任务超时，否则仍在执行的渲染会被提前释放锁
	if cfg.Render.StaleAfter <= tasks.RenderTimeout {
		return fmt.Errorf("render stale after must exceed the task timeout %s", tasks.RenderTimeout)
	}
	// 种子发布者账号可选，但邮箱与哈希必须成对出现
	hasEmail := strings.TrimSpace(cfg.Auth.PublisherEmail) != ""
	hasHash := strings.TrimSpace(cfg.Auth.PublisherPasswordHash) != ""
	if hasEmail != hasHash {
		return errors.New("publisher email and password hash must be set together")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	if cfg.Auth.LoginRateLimitPerHour <= 0 {
		return errors.New("login rate limit must be positive")
	}
	if cfg.Auth.LoginLockThreshold <= 0 {
		return errors.New("login lock threshold must be positive")
	}
	if cfg.Auth.LoginLockTTL <= 0 {
		return errors.New("login lock ttl must be positive")
	}
	return nil
}
