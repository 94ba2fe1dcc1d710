package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"carechat/internal/api"
	"carechat/internal/chat"
	"carechat/internal/config"
	"carechat/internal/credentials"
	"carechat/internal/database"
	"carechat/internal/httpclient"
	"carechat/internal/hub"
	"carechat/internal/logging"
	"carechat/internal/metrics"
	"carechat/internal/status"
	"carechat/internal/websocket"
	pkgdatabase "carechat/pkg/database"
	"carechat/pkg/interfaces"
)

// Application coordinates all client components.
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	kv         interfaces.KeyValueStore
	store      *credentials.Store
	resolver   *credentials.Resolver
	api        *api.Client
	hub        *hub.Hub
	chat       *chat.Manager
	status     *status.Server
	httpServer *http.Server
}

// NewApplication builds every component in dependency order:
// Store → HTTP client → Resolver → Façade → Hub → Dialer → Manager → Status.
// A nil logger is built from cfg.Logging.
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if logger == nil {
		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Logging.Level
		logCfg.Development = cfg.Logging.Development
		built, err := logging.New(logCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		logger = built
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics(registry)

	// STEP 1: Credential backend (foundation layer)
	kv, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	store := credentials.NewStore(kv)

	// STEP 2: Shared HTTP transport and credential resolver
	httpClient := httpclient.New(cfg.API, logger)
	resolver := credentials.NewResolver(store, httpClient,
		credentials.WithLogger(logger),
		credentials.WithMetrics(m),
	)

	// STEP 3: REST façade
	apiClient := api.NewClient(httpClient, resolver,
		api.WithLogger(logger),
		api.WithMetrics(m),
	)

	// STEP 4: Event hub and connection manager
	eventHub := hub.NewHub(logger)
	dialer := websocket.NewDialer(cfg.WebSocket, logger)
	manager := chat.NewManager(cfg.WebSocket, resolver, dialer, eventHub,
		chat.WithLogger(logger),
		chat.WithMetrics(m),
	)

	// STEP 5: Local status server, only when an address is configured
	var health status.HealthChecker
	if hc, ok := kv.(status.HealthChecker); ok {
		health = hc
	}
	statusServer := status.NewServer(manager, eventHub, health, m.Handler(), logger)

	var httpServer *http.Server
	if cfg.Metrics.Addr != "" {
		httpServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           statusServer,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		metrics:    m,
		kv:         kv,
		store:      store,
		resolver:   resolver,
		api:        apiClient,
		hub:        eventHub,
		chat:       manager,
		status:     statusServer,
		httpServer: httpServer,
	}, nil
}

// OpenStore opens the credential backend cfg selects.
func OpenStore(ctx context.Context, cfg *config.StoreConfig, logger *zap.Logger) (interfaces.KeyValueStore, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return credentials.NewMemoryKV(), nil
	case config.StoreSQLite:
		db, err := database.NewManager(pkgdatabase.DefaultConfig(cfg.Path), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open credential database: %w", err)
		}
		return db, nil
	case config.StoreRedis:
		kv, err := credentials.DialRedisKV(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect credential redis: %w", err)
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Start serves the status endpoints when configured. It does not connect the
// chat socket; see Connect.
func (app *Application) Start(ctx context.Context) error {
	if app.httpServer == nil {
		return nil
	}
	app.logger.Info("starting status server", zap.String("addr", app.httpServer.Addr))

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("status server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	case <-ctx.Done():
		_ = app.httpServer.Close()
		return ctx.Err()
	}
}

// Connect opens the chat socket to peerID.
func (app *Application) Connect(ctx context.Context, peerID int64) error {
	app.chat.SetPeer(peerID)
	return app.chat.Initialize(ctx)
}

// Stop tears down in reverse order: chat socket, status server, store.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	app.chat.Cleanup()

	var errs []error
	if app.httpServer != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status server shutdown: %w", err))
		}
	}
	if err := app.kv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("credential store close: %w", err))
	}

	_ = app.logger.Sync()
	return errors.Join(errs...)
}

func (app *Application) Chat() *chat.Manager { return app.chat }
func (app *Application) API() *api.Client { return app.api }
func (app *Application) Hub() *hub.Hub { return app.hub }
func (app *Application) Credentials() *credentials.Store { return app.store }
func (app *Application) Resolver() *credentials.Resolver { return app.resolver }
func (app *Application) Handler() http.Handler { return app.status }
func (app *Application) Logger() *zap.Logger { return app.logger }

// Addr returns the status server address, or "" when it is disabled.
func (app *Application) Addr() string {
	if app.httpServer == nil {
		return ""
	}
	return app.httpServer.Addr
}
