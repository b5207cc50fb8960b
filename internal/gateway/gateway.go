// ABOUTME: Gateway orchestrator wiring the store, engine, and HTTP server.
// ABOUTME: Manages component lifecycle and graceful shutdown.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/2389/moot/internal/config"
	"github.com/2389/moot/internal/engine"
	"github.com/2389/moot/internal/rpc"
	"github.com/2389/moot/internal/stick"
	"github.com/2389/moot/internal/store"
)

// shutdownTimeout bounds how long graceful shutdown may take.
const shutdownTimeout = 10 * time.Second

// Gateway orchestrates the moot-gateway server components: the SQLite
// store, the coordination engine, and the HTTP server carrying JSON-RPC,
// health, metrics, and injection endpoints.
type Gateway struct {
	config     *config.Config
	store      store.Store
	engine     *engine.Engine
	rpcServer  *rpc.Server
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("MOOT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	return store.NewSQLiteStore(dbPath)
}

// New creates a Gateway from the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	var engineOpts []engine.Option
	if cfg.Coordination.IdleThreshold > 0 {
		engineOpts = append(engineOpts,
			engine.WithStickOptions(stick.WithIdleThreshold(cfg.Coordination.IdleThreshold)))
	}
	e := engine.New(s, logger, engineOpts...)

	rpcServer, err := rpc.NewServer(rpc.Config{
		Engine: e,
		Logger: logger,
		APIKey: cfg.Auth.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating rpc server: %w", err)
	}

	mux := http.NewServeMux()
	rpcServer.RegisterRoutes(mux)

	return &Gateway{
		config:    cfg,
		store:     s,
		engine:    e,
		rpcServer: rpcServer,
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "gateway"),
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails. Shutdown is graceful within shutdownTimeout.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("shutting down")
	case err := <-errCh:
		g.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("http shutdown failed", "error", err)
	}
	<-errCh

	g.close()
	return nil
}

func (g *Gateway) close() {
	g.rpcServer.Close()
	if err := g.store.Close(); err != nil {
		g.logger.Error("closing store", "error", err)
	}
}
