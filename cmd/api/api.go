package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"laundry/internal/backend"
	"laundry/internal/checkout"
	"laundry/internal/drafts"
	"laundry/internal/payments"
	"laundry/internal/poller"
	"laundry/internal/ratelimiter"
	"laundry/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// paymentsBackend is the slice of the backend client the handlers call
// directly; the orchestrators get their own narrower views.
type paymentsBackend interface {
	ProcessPayment(ctx context.Context, transactionUUID string) (*backend.PaymentAttempt, error)
	PaymentHistory(ctx context.Context, q backend.HistoryQuery) (*backend.HistoryPage, error)
}

type application struct {
	config       config
	logger       *zap.SugaredLogger
	backend      paymentsBackend
	drafts       drafts.Store
	sessions     *session.Manager
	orderFirst   *checkout.Orchestrator
	paymentFirst *checkout.Orchestrator
	bills        *checkout.Bills
	stats        *poller.Poller
	rateLimiter  *ratelimiter.FixedWindowRateLimiter
	wg           sync.WaitGroup
}

type config struct {
	addr         string
	env          string
	apiURL       string
	frontendURL  string
	backend      backendConfig
	esewa        esewaConfig
	verify       verifyConfig
	drafts       draftsConfig
	db           dbConfig
	mongo        mongoConfig
	auth         authConfig
	pollInterval time.Duration
	rateLimiter  ratelimiter.Config
}

type backendConfig struct {
	baseURL string
	token   string
	timeout time.Duration
}

type esewaConfig struct {
	formURL    string
	successURL string
	failureURL string
}

type verifyConfig struct {
	maxRetries int
	delay      time.Duration
}

type draftsConfig struct {
	store         string
	ttl           time.Duration
	minTurnaround time.Duration
}

type dbConfig struct {
	addr         string
	maxOpenConns int
	maxIdleTime  string
}

type mongoConfig struct {
	uri      string
	database string
}

type authConfig struct {
	basic   basicConfig
	session sessionConfig
}

type basicConfig struct {
	user string
	pass string
}

type sessionConfig struct {
	secret string
	exp    time.Duration
	iss    string
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Verification may retry for several seconds before giving up.
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.With(app.BasicAuthMiddleware()).Get("/health", app.healthCheckHandler)
		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(app.SessionMiddleware)

			r.Route("/checkout", func(r chi.Router) {
				r.Get("/draft", app.getDraftHandler)
				r.Put("/draft", app.putDraftHandler)
				r.Delete("/draft", app.deleteDraftHandler)

				r.With(app.RateLimiterMiddleware).Post("/", app.checkoutHandler(app.orderFirst))
				r.With(app.RateLimiterMiddleware).Post("/deferred", app.checkoutHandler(app.paymentFirst))
			})

			r.Route("/payments", func(r chi.Router) {
				r.Get("/esewa/return", app.esewaReturnHandler(payments.GatewayComplete))
				r.Get("/esewa/failure", app.esewaReturnHandler(payments.GatewayFailed))
				r.Get("/receipt/{transactionID}", app.receiptHandler)
				r.Get("/failure", app.failureHandler)
				r.Get("/history", app.paymentHistoryHandler)
			})

			r.Route("/bills", func(r chi.Router) {
				r.Get("/summary", app.billSummaryHandler)
				r.With(app.RateLimiterMiddleware).Post("/pay", app.payBillHandler)
			})
		})

		r.Get("/orders/stats/live", app.liveOrderStatsHandler)
	})
	return r
}

func (app *application) allowedOrigins() []string {
	if app.config.frontendURL != "" {
		return []string{app.config.frontendURL}
	}
	return []string{"https://*", "http://*"}
}

func (app *application) run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 90,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	app.startBackground(ctx)

	// Implementing graceful shutdown
	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		stopBackground()
		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.wg.Wait()
	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}
