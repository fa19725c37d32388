package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	AppName        string
	LogLevel       string
	Port           string
	PublicBaseURL  string
	DatabaseURL    string
	DBMaxConns     int
	StoreBackend   string
	MigrateOnStart bool

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
	DefaultLocale      string

	MonitorInitialDelay       time.Duration
	MonitorPollInterval       time.Duration
	MonitorMaxDuration        time.Duration
	MonitorCallTimeout        time.Duration
	MonitorMaxConcurrentPolls int
	RedisURL                  string

	SubmitTimeout       time.Duration
	BatchMaxConcurrent  int
	WorkerSweepInterval time.Duration

	StorageBackend    string
	StorageBucket     string
	StorageDir        string
	StorageSigningKey string
	MinioEndpoint     string
	MinioAccessKey    string
	MinioSecretKey    string
	MinioUseSSL       bool
	StagingDir        string

	PublishMaxBytes      int64
	PublishRetryAttempts int
	PublishRetryBackoff  time.Duration
	ResultRetention      time.Duration

	PresignTTL         time.Duration
	PresignMinValidity time.Duration

	EventsBackend       string
	NATSURL             string
	EventsSubjectPrefix string
	RabbitMQURL         string
	RabbitMQExchange    string
	KafkaBrokers        []string
	KafkaTopic          string

	AvatarAPIKey          string
	AvatarBaseURL         string
	AvatarWebhookSecret   string
	RenderAPIKey          string
	RenderBaseURL         string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	SpeechModel           string
	SpeechVoice           string
	ProviderRatePerSecond int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		AppName:        getEnv("APP_NAME", "slidecast"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Port:           getEnv("PORT", "8080"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBMaxConns:     getEnvInt("DB_MAX_CONNS", 10),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", false),

		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		DefaultLocale:      getEnv("DEFAULT_LOCALE", "en"),

		MonitorInitialDelay:       getEnvDuration("MONITOR_INITIAL_DELAY", 10*time.Second),
		MonitorPollInterval:       getEnvDuration("MONITOR_POLL_INTERVAL", 10*time.Second),
		MonitorMaxDuration:        getEnvDuration("MONITOR_MAX_DURATION", 30*time.Minute),
		MonitorCallTimeout:        getEnvDuration("MONITOR_CALL_TIMEOUT", 20*time.Second),
		MonitorMaxConcurrentPolls: getEnvInt("MONITOR_MAX_CONCURRENT_POLLS", 32),
		RedisURL:                  os.Getenv("REDIS_URL"),

		SubmitTimeout:       getEnvDuration("SUBMIT_TIMEOUT", 15*time.Second),
		BatchMaxConcurrent:  getEnvInt("BATCH_MAX_CONCURRENT", 5),
		WorkerSweepInterval: getEnvDuration("WORKER_SWEEP_INTERVAL", time.Minute),

		StorageBackend:    strings.ToLower(getEnv("STORAGE_BACKEND", "filesystem")),
		StorageBucket:     getEnv("STORAGE_BUCKET", "slidecast-assets"),
		StorageDir:        getEnv("STORAGE_DIR", "./data/objects"),
		StorageSigningKey: os.Getenv("STORAGE_SIGNING_KEY"),
		MinioEndpoint:     os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:    os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:    os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:       getEnvBool("MINIO_USE_SSL", false),
		StagingDir:        getEnv("STAGING_DIR", os.TempDir()),

		PublishMaxBytes:      int64(getEnvInt("PUBLISH_MAX_BYTES", 2<<30)),
		PublishRetryAttempts: getEnvInt("PUBLISH_RETRY_ATTEMPTS", 3),
		PublishRetryBackoff:  getEnvDuration("PUBLISH_RETRY_BACKOFF", 5*time.Second),
		ResultRetention:      getEnvDuration("RESULT_RETENTION", 48*time.Hour),

		PresignTTL:         getEnvDuration("PRESIGN_TTL", 24*time.Hour),
		PresignMinValidity: getEnvDuration("PRESIGN_MIN_VALIDITY", 30*time.Minute),

		EventsBackend:       strings.ToLower(getEnv("EVENTS_BACKEND", "none")),
		NATSURL:             getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		EventsSubjectPrefix: getEnv("EVENTS_SUBJECT_PREFIX", "slidecast"),
		RabbitMQURL:         os.Getenv("RABBITMQ_URL"),
		RabbitMQExchange:    getEnv("RABBITMQ_EXCHANGE", "slidecast.events"),
		KafkaBrokers:        getEnvList("KAFKA_BROKERS"),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "slidecast.events"),

		AvatarAPIKey:          os.Getenv("AVATAR_API_KEY"),
		AvatarBaseURL:         getEnv("AVATAR_BASE_URL", "https://api.heygen.com"),
		AvatarWebhookSecret:   os.Getenv("AVATAR_WEBHOOK_SECRET"),
		RenderAPIKey:          os.Getenv("RENDER_API_KEY"),
		RenderBaseURL:         getEnv("RENDER_BASE_URL", "https://api.shotstack.io/edit/v1"),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		SpeechModel:           getEnv("SPEECH_MODEL", "tts-1"),
		SpeechVoice:           getEnv("SPEECH_VOICE", "alloy"),
		ProviderRatePerSecond: getEnvInt("PROVIDER_RATE_PER_SECOND", 5),
	}

	switch cfg.StoreBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.StorageBackend {
	case "filesystem":
		if cfg.StorageSigningKey == "" {
			if cfg.AppEnv != "development" {
				return nil, fmt.Errorf("STORAGE_SIGNING_KEY is required")
			}
			cfg.StorageSigningKey = "development-signing-key"
		}
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return nil, fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	if cfg.PresignMinValidity >= cfg.PresignTTL {
		return nil, fmt.Errorf("PRESIGN_MIN_VALIDITY must be shorter than PRESIGN_TTL")
	}
	if cfg.MonitorPollInterval <= 0 || cfg.MonitorMaxDuration <= 0 {
		return nil, fmt.Errorf("monitor interval and max duration must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
