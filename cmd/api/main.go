package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"laundry/internal/backend"
	"laundry/internal/checkout"
	"laundry/internal/db"
	"laundry/internal/drafts"
	"laundry/internal/payments"
	"laundry/internal/poller"
	"laundry/internal/ratelimiter"
	"laundry/internal/session"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "0.4.0"

// LoadRateLimiterConfig retrieves rate limiter settings from environment variables.
func LoadRateLimiterConfig() ratelimiter.Config {
	return ratelimiter.Config{
		RequestsPerTimeFrame: envInt("RATELIMITER_REQUESTS_COUNT", 20),
		TimeFrame:            envDuration("RATELIMITER_TIME_FRAME", 5*time.Second),
		Enabled:              envBool("RATE_LIMITER_ENABLED", true),
	}
}

// NewLogger creates a console zap logger with coloured levels.
func NewLogger(level zapcore.Level) *zap.SugaredLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stdout), level)
	return zap.New(core).Sugar()
}

func loadConfig() config {
	externalURL := strings.TrimRight(os.Getenv("EXTERNAL_URL"), "/")

	return config{
		addr:        envString("ADDR", ":8080"),
		env:         envString("ENV", "development"),
		apiURL:      externalURL,
		frontendURL: strings.TrimRight(os.Getenv("FRONTEND_URL"), "/"),
		backend: backendConfig{
			baseURL: os.Getenv("BACKEND_URL"),
			token:   os.Getenv("BACKEND_TOKEN"),
			timeout: envDuration("BACKEND_TIMEOUT", 15*time.Second),
		},
		esewa: esewaConfig{
			formURL:    envString("ESEWA_FORM_URL", payments.DefaultEsewaFormURL),
			successURL: externalURL + "/v1/payments/esewa/return",
			failureURL: externalURL + "/v1/payments/esewa/failure",
		},
		verify: verifyConfig{
			maxRetries: payments.DefaultVerifyRetries,
			delay:      payments.DefaultVerifyDelay,
		},
		drafts: draftsConfig{
			store:         envString("DRAFT_STORE", "memory"),
			ttl:           envDuration("DRAFT_TTL", 7*24*time.Hour),
			minTurnaround: envDuration("MIN_TURNAROUND", drafts.DefaultMinTurnaround),
		},
		db: dbConfig{
			addr:         os.Getenv("DB_ADDR"),
			maxOpenConns: envInt("DB_MAX_OPEN_CONNS", 10),
			maxIdleTime:  envString("DB_MAX_IDLE_TIME", "15m"),
		},
		mongo: mongoConfig{
			uri:      os.Getenv("MONGO_URI"),
			database: envString("MONGO_DB", "laundry"),
		},
		auth: authConfig{
			basic: basicConfig{
				user: os.Getenv("AUTH_BASIC_USER"),
				pass: os.Getenv("AUTH_BASIC_PASS"),
			},
			session: sessionConfig{
				secret: os.Getenv("SESSION_SECRET"),
				exp:    envDuration("SESSION_TTL", 7*24*time.Hour),
				iss:    "laundry",
			},
		},
		pollInterval: envDuration("STATS_POLL_INTERVAL", poller.DefaultInterval),
		rateLimiter:  LoadRateLimiterConfig(),
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := loadConfig()

	level := zapcore.InfoLevel
	if cfg.env == "development" {
		level = zapcore.DebugLevel
	}
	logger := NewLogger(level)
	defer logger.Sync()

	if cfg.backend.baseURL == "" {
		logger.Fatal("BACKEND_URL is required")
	}
	if cfg.auth.session.secret == "" {
		logger.Fatal("SESSION_SECRET is required")
	}

	store, closeStore, err := openDraftStore(cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer closeStore()

	client := backend.New(cfg.backend.baseURL, cfg.backend.token,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.backend.timeout}))

	esewa := payments.NewEsewaAdapter(client, cfg.esewa.formURL, cfg.esewa.successURL, cfg.esewa.failureURL)
	manager := payments.NewDefaultManager(client, esewa)
	verifier := payments.NewVerifier(client, logger).WithRetryPolicy(cfg.verify.maxRetries, cfg.verify.delay)

	// One guard for both pages: they share the return endpoint.
	guard := checkout.NewGuard()
	stats := poller.New(client, cfg.pollInterval, logger)

	rateLimiter := ratelimiter.NewFixedWindowLimiter(
		cfg.rateLimiter.RequestsPerTimeFrame,
		cfg.rateLimiter.TimeFrame,
	)

	app := &application{
		config:   cfg,
		logger:   logger,
		backend:  client,
		drafts:   store,
		sessions: session.NewManager(cfg.auth.session.secret, cfg.auth.session.iss, cfg.auth.session.exp),
		orderFirst: checkout.New(checkout.OrderFirst, store, client, manager, verifier, guard, logger).
			WithMinTurnaround(cfg.drafts.minTurnaround),
		paymentFirst: checkout.New(checkout.PaymentFirst, store, client, manager, verifier, guard, logger).
			WithMinTurnaround(cfg.drafts.minTurnaround),
		bills:       checkout.NewBills(store, stats, manager, logger),
		stats:       stats,
		rateLimiter: rateLimiter,
	}

	// Metrics collected
	expvar.NewString("version").Set(version)
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))
	expvar.Publish("draft_store", expvar.Func(func() any {
		return cfg.drafts.store
	}))
	expvar.Publish("stats_polls", expvar.Func(func() any {
		return map[string]int64{"fetches": stats.Fetches(), "skipped": stats.Skipped()}
	}))

	mux := app.mount()
	logger.Fatal(app.run(mux))
}

// openDraftStore picks the slot backend from DRAFT_STORE.
func openDraftStore(cfg config, logger *zap.SugaredLogger) (drafts.Store, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.drafts.store {
	case "postgres":
		pool, err := db.New(cfg.db.addr, int32(cfg.db.maxOpenConns), cfg.db.maxIdleTime)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		store := drafts.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database connection pool established")
		return store, pool.Close, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.mongo.uri))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo: %w", err)
		}
		disconnect := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("mongo ping: %w", err)
		}
		store := drafts.NewMongoStore(client.Database(cfg.mongo.database))
		if err := store.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, err
		}
		logger.Infow("connected to mongodb", "database", cfg.mongo.database)
		return store, disconnect, nil

	case "memory", "":
		logger.Warn("draft slots are kept in memory and lost on restart")
		return drafts.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown DRAFT_STORE %q", cfg.drafts.store)
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("invalid %s=%q, defaulting to %d", key, v, def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("invalid %s=%q, defaulting to %t", key, v, def)
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		log.Printf("invalid %s=%q, defaulting to %s", key, v, def)
		return def
	}
	return d
}
