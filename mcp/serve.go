package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	aikit "github.com/takatoshi-maeda/ai-kit"
	"github.com/takatoshi-maeda/ai-kit/internal/config"
	"github.com/takatoshi-maeda/ai-kit/observer"
	filestore "github.com/takatoshi-maeda/ai-kit/store/file"
	"github.com/takatoshi-maeda/ai-kit/store/postgres"
	"github.com/takatoshi-maeda/ai-kit/store/sqlite"
)

// App assembles a complete protocol server from configuration: store
// backend, agent registry, run handler, transport, and HTTP bridge. The
// model-calling capability is injected through the registry's agent
// factories; the App owns everything else.
type App struct {
	cfg       config.Config
	registry  *Registry
	server    *Server
	transport *Transport
	bridge    *Bridge
	store     aikit.Store
	logger    *slog.Logger

	shutdownObserver func(context.Context) error
}

// AppOption configures an App.
type AppOption func(*App)

// AppLogger sets a structured logger shared by all components.
func AppLogger(l *slog.Logger) AppOption {
	return func(a *App) { a.logger = l }
}

// NewApp builds an App from configuration. The registry must already hold
// the agents to expose; register them before calling NewApp.
func NewApp(ctx context.Context, cfg config.Config, registry *Registry, opts ...AppOption) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: registry,
		logger:   aikit.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.Observer.Enabled {
		var initOpts []observer.InitOption
		if cfg.Observer.Endpoint != "" {
			initOpts = append(initOpts, observer.WithEndpoint(cfg.Observer.Endpoint))
		}
		shutdown, err := observer.Init(ctx, initOpts...)
		if err != nil {
			return nil, fmt.Errorf("observer init: %w", err)
		}
		a.shutdownObserver = shutdown
	}

	st, err := openStore(ctx, cfg.Database, a.logger)
	if err != nil {
		return nil, err
	}
	a.store = st

	a.server = NewServer(cfg.Server.Name, cfg.Server.Version, ServerLogger(a.logger))
	RegisterStandardOps(a.server, registry, st)
	runOpts := []RunHandlerOption{RunHandlerLogger(a.logger)}
	if cfg.Observer.Enabled || len(cfg.Observer.Pricing) > 0 {
		runOpts = append(runOpts, RunHandlerCosts(observer.NewCostCalculator(pricingOverrides(cfg.Observer.Pricing))))
	}
	NewRunHandler(a.server, registry, st, runOpts...)

	a.transport = NewTransport(a.server, TransportLogger(a.logger))
	a.bridge = NewBridge(BridgeLogger(a.logger))
	a.bridge.Mount(cfg.Server.Name, describeAgents(registry), a.transport)
	return a, nil
}

// pricingOverrides converts the [observer.pricing] config table into
// calculator overrides.
func pricingOverrides(p map[string]config.ObserverPricing) map[string]observer.ModelPricing {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]observer.ModelPricing, len(p))
	for model, pr := range p {
		out[model] = observer.ModelPricing{InputPerMillion: pr.Input, OutputPerMillion: pr.Output}
	}
	return out
}

// describeAgents renders a one-line description of the mounted agents.
func describeAgents(registry *Registry) string {
	infos := registry.List()
	if len(infos) == 0 {
		return "no agents registered"
	}
	desc := infos[0].Name
	for _, info := range infos[1:] {
		desc += ", " + info.Name
	}
	return desc
}

// Store returns the configured persistence backend.
func (a *App) Store() aikit.Store { return a.store }

// Transport returns the in-process transport, for embedding without HTTP.
func (a *App) Transport() *Transport { return a.transport }

// Handler returns the HTTP routes for this App.
func (a *App) Handler() http.Handler { return a.bridge.Handler() }

// Run performs the protocol handshake and serves HTTP until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.transport.Start(ctx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: a.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", a.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return a.Close(shutdownCtx)
}

// Close releases the transport, store, and observer.
func (a *App) Close(ctx context.Context) error {
	a.transport.Close()
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.shutdownObserver != nil {
		if err := a.shutdownObserver(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStore builds the store backend selected by config.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (aikit.Store, error) {
	switch cfg.Driver {
	case "", "file":
		st, err := filestore.New(cfg.Path, filestore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return st, nil
	case "sqlite":
		st := sqlite.New(cfg.Path, sqlite.WithLogger(logger))
		if err := st.Init(ctx); err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return st, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		st := postgres.New(pool)
		if err := st.Init(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return &pooledStore{Store: st, pool: pool}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// pooledStore ties the pool's lifetime to the App, which created it.
type pooledStore struct {
	*postgres.Store
	pool *pgxpool.Pool
}

func (s *pooledStore) Close() error {
	s.pool.Close()
	return nil
}
