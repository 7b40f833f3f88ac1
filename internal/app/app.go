package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licenseledger/internal/config"
	"licenseledger/internal/infrastructure"
	"licenseledger/internal/ledger"
	customMiddleware "licenseledger/internal/middleware"
	"licenseledger/internal/services"
	"licenseledger/internal/storage"
	handlers "licenseledger/internal/transport/http"
	ws "licenseledger/internal/websocket"
)

const (
	Version = "1.0.0"
	AppName = "license-ledger"
)

// Application is the dependency container for the running service
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	Store         *storage.Store
	Engine        *ledger.Engine
	WebSocketHub  *ws.Hub
	LedgerService services.LedgerService
	HealthService *services.HealthService
}

// NewApplication builds the full application graph: config, logging,
// telemetry, storage, engine, services and router.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	logger.InfoContext(ctx, "application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(ctx); err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

func (a *Application) initializeServices(ctx context.Context) error {
	db, err := storage.Connect(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return err
	}
	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	a.Store = storage.New(db)

	hub := ws.NewHub(a.Logger)
	hub.Start()
	a.WebSocketHub = hub

	a.Engine = ledger.NewEngine(a.Store, a.Logger, ledger.WithPublisher(hub))

	var metrics *infrastructure.BusinessMetrics
	if a.OTelProviders.Meter != nil {
		metrics, err = infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
		if err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}
	}

	a.LedgerService = services.NewLedgerService(a.Engine, a.Store, metrics, a.Logger)
	a.HealthService = services.NewHealthService(Version, a.Store, a.Logger)

	return nil
}

// setupRouter configures the HTTP router.
//
// The websocket route stays outside the API group: response-writer
// wrapping middleware breaks the upgrade handshake.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.With(customMiddleware.APIKeyAuth(a.Config.Security.APIKey, a.Logger)).
		HandleFunc("/ws/activity", ws.ServeWS(a.WebSocketHub, a.Logger))

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		if a.OTelProviders.Tracer != nil {
			otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
			if err != nil {
				a.Logger.Error("failed to create telemetry middleware",
					slog.String("error", err.Error()))
			} else {
				r.Use(otelMiddleware.Handler)
			}
		}

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
				AllowedOrigins: a.Config.Security.AllowedOrigins,
				ExposedHeaders: []string{"X-Request-ID"},
				Logger:         a.Logger,
			}))
		}

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	a.Router = r
}

func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		// Health endpoints stay open so probes don't need credentials
		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Mount("/health", healthHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.APIKeyAuth(a.Config.Security.APIKey, a.Logger))
			r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger))

			validationHandler := handlers.NewValidationHandler(a.LedgerService, a.Logger)
			r.Mount("/validation", validationHandler.Routes())

			licenseHandler := handlers.NewLicenseHandler(a.LedgerService, a.Logger)
			r.Mount("/licenses/{licenseKey}", licenseHandler.Routes())

			statsHandler := handlers.NewStatsHandler(a.LedgerService, a.Logger)
			r.Mount("/", statsHandler.Routes())
		})
	})
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run starts the server and blocks until an interrupt arrives, then shuts
// down gracefully.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		a.Logger.InfoContext(ctx, "server listening",
			slog.Int("port", a.Config.Server.Port))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "received shutdown signal",
			slog.String("signal", sig.String()))
	}

	return a.Stop(ctx)
}

// Stop gracefully stops the server, hub and telemetry providers
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	a.WebSocketHub.Shutdown()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "telemetry shutdown error",
				slog.String("error", err.Error()))
		}
	}

	if err := infrastructure.CloseLogFile(); err != nil {
		a.Logger.ErrorContext(ctx, "log file close error",
			slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "shutdown complete")
	return nil
}
