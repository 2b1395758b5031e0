package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lexking/tracker/internal/event"
	applog "github.com/lexking/tracker/internal/logger"
	"github.com/lexking/tracker/internal/query"
	"github.com/lexking/tracker/internal/server"
	"github.com/lexking/tracker/internal/shortcode"
	"github.com/lexking/tracker/internal/store"
)

type Config struct {
	Port      string
	AppDomain string

	// AppendMode selects the persistence strategy for the tracking path:
	// "sync" blocks the response on the insert (a storage failure is a
	// visible 500), "queue" publishes to RabbitMQ for the ingest worker.
	AppendMode string
	ClickQueue string

	CacheTTL time.Duration

	DB       *gorm.DB
	Redis    *redis.Client
	RabbitMQ *amqp091.Channel
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		slog.Warn(".env file not found, relying on env vars", "err", err)
	}

	applog.InitFromEnv()

	ctx := context.Background()
	cfg := loadConfig(ctx)

	st := store.New(cfg.DB)
	slog.Info("Running migration...")
	if err := st.Migrate(); err != nil {
		slog.Error("Failed to migrate database", "err", err)
		os.Exit(1)
	}

	var appender store.Appender = st
	if cfg.AppendMode == "queue" {
		pub, err := store.NewQueuePublisher(cfg.RabbitMQ, cfg.ClickQueue)
		if err != nil {
			slog.Error("Failed to set up click queue", "err", err)
			os.Exit(1)
		}
		appender = pub
	}

	queries := query.New(st, cfg.Redis, cfg.CacheTTL)

	app := server.New(
		server.Config{AppDomain: cfg.AppDomain},
		shortcode.New(),
		event.NewNormalizer(),
		appender,
		queries,
	)

	slog.Info("Starting tracker", "port", cfg.Port, "append_mode", cfg.AppendMode)
	if err := app.Listen(cfg.Port); err != nil {
		slog.Error("Tracker failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig(ctx context.Context) *Config {
	db, err := gorm.Open(postgres.Open(os.Getenv("DB_URL")), &gorm.Config{
		Logger: applog.NewGormLogger(os.Getenv("GORM_LOG_LEVEL")),
	})
	if err != nil {
		slog.Error("Unable to connect to database", "err", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			slog.Error("Unable to connect to Redis", "err", err)
			os.Exit(1)
		}
	} else {
		slog.Info("REDIS_ADDR not set, summary cache disabled")
	}

	mode := getEnv("APPEND_MODE", "sync")
	if mode != "sync" && mode != "queue" {
		slog.Error("APPEND_MODE must be sync or queue", "value", mode)
		os.Exit(1)
	}

	var rabbitCH *amqp091.Channel
	if mode == "queue" {
		rabbitConn, err := amqp091.Dial(os.Getenv("RABBITMQ_URL"))
		if err != nil {
			slog.Error("Unable to connect to RabbitMQ", "err", err)
			os.Exit(1)
		}
		rabbitCH, err = rabbitConn.Channel()
		if err != nil {
			slog.Error("Unable to open RabbitMQ channel", "err", err)
			os.Exit(1)
		}
	}

	ttl := 30 * time.Second
	if v := os.Getenv("QUERY_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Error("Invalid QUERY_CACHE_TTL", "value", v, "err", err)
			os.Exit(1)
		}
		ttl = d
	}

	return &Config{
		Port:       getEnv("PORT", ":8080"),
		AppDomain:  os.Getenv("APP_DOMAIN"),
		AppendMode: mode,
		ClickQueue: getEnv("CLICK_QUEUE_NAME", "click_events"),
		CacheTTL:   ttl,
		DB:         db,
		Redis:      rdb,
		RabbitMQ:   rabbitCH,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
