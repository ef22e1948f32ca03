package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	NodeID        int64
	HTTPAddr      string
	AuthJWTSecret string

	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis        RedisConfig
	Queue        QueueConfig
	Notification NotificationConfig
	RateLimit    RateLimitConfig
}

// ObservabilityConfig feeds logging, tracing and metrics. OTEL_* names
// follow the OpenTelemetry environment conventions.
type ObservabilityConfig struct {
	LogLevel              string
	LogFormat             string
	LogSamplingInitial    int
	LogSamplingThereafter int

	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address has been configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type QueueConfig struct {
	Driver           string
	NATSURL          string
	QueueGroup       string
	DurableName      string
	SubscribersCount int
	AckWait          time.Duration
	MaxDeliver       int

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	PoisonTopic          string

	DispatchInterval  time.Duration
	DispatchBatchSize int
	OutboxRetention   time.Duration
	LedgerRetention   time.Duration
}

type NotificationConfig struct {
	DiscordWebhookURL string
	Timeout           time.Duration
	RatePerSecond     float64
	Burst             int
}

type RateLimitConfig struct {
	SubmissionsPerMinute float64
	SubmissionBurst      int
}

const (
	QueueDriverMemory = "memory"
	QueueDriverNATS   = "nats"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "leaguetracker"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		NodeID:        getenvInt64("NODE_ID", 1),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "leaguetracker"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		Observability: ObservabilityConfig{
			LogLevel:              strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:             strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			LogSamplingInitial:    getenvInt("LOG_SAMPLING_INITIAL", 100),
			LogSamplingThereafter: getenvInt("LOG_SAMPLING_THEREAFTER", 100),
			OtelEnabled:           getenvBool("OTEL_ENABLED", false),
			OtelEndpoint:          strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol:          otlpProtocol(),
			OtelSamplingRatio:     getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Driver:               normalizeQueueDriver(getenv("QUEUE_DRIVER", QueueDriverMemory)),
			NATSURL:              getenv("NATS_URL", "nats://localhost:4222"),
			QueueGroup:           getenv("QUEUE_GROUP", "tracker-registration"),
			DurableName:          getenv("QUEUE_DURABLE_NAME", "tracker-registration"),
			SubscribersCount:     getenvInt("QUEUE_SUBSCRIBERS", 4),
			AckWait:              getenvDuration("QUEUE_ACK_WAIT", 30*time.Second),
			MaxDeliver:           getenvInt("QUEUE_MAX_DELIVER", 10),
			RetryMaxRetries:      getenvInt("QUEUE_RETRY_MAX", 5),
			RetryInitialInterval: getenvDuration("QUEUE_RETRY_INITIAL_INTERVAL", time.Second),
			RetryMaxInterval:     getenvDuration("QUEUE_RETRY_MAX_INTERVAL", time.Minute),
			PoisonTopic:          getenv("QUEUE_POISON_TOPIC", "dlq.tracker.registration"),
			DispatchInterval:     getenvDuration("OUTBOX_DISPATCH_INTERVAL", 2*time.Second),
			DispatchBatchSize:    getenvInt("OUTBOX_DISPATCH_BATCH", 50),
			OutboxRetention:      getenvDuration("OUTBOX_RETENTION", 7*24*time.Hour),
			LedgerRetention:      getenvDuration("IDEMPOTENCY_RETENTION", 30*24*time.Hour),
		},
		Notification: NotificationConfig{
			DiscordWebhookURL: strings.TrimSpace(getenv("DISCORD_WEBHOOK_URL", "")),
			Timeout:           getenvDuration("NOTIFICATION_TIMEOUT", 5*time.Second),
			RatePerSecond:     getenvFloat("NOTIFICATION_RATE_PER_SECOND", 1),
			Burst:             getenvInt("NOTIFICATION_BURST", 5),
		},
		RateLimit: RateLimitConfig{
			SubmissionsPerMinute: getenvFloat("SUBMISSIONS_PER_MINUTE", 10),
			SubmissionBurst:      getenvInt("SUBMISSION_BURST", 5),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// otlpProtocol prefers the traces-specific override, then the generic one.
func otlpProtocol() string {
	for _, key := range []string{"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL"} {
		if v := strings.ToLower(strings.TrimSpace(os.Getenv(key))); v != "" {
			return v
		}
	}
	return "grpc"
}

func normalizeQueueDriver(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case QueueDriverNATS:
		return QueueDriverNATS
	default:
		return QueueDriverMemory
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
