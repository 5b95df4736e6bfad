// ABOUTME: Gateway orchestrator wiring store, sessions, agents, and the coordinator behind HTTP
// ABOUTME: Owns the server lifecycle, the idle session sweeper, and health endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/2389/tutor-gateway/internal/agent"
	"github.com/2389/tutor-gateway/internal/auth"
	"github.com/2389/tutor-gateway/internal/config"
	"github.com/2389/tutor-gateway/internal/coordinator"
	"github.com/2389/tutor-gateway/internal/dedupe"
	"github.com/2389/tutor-gateway/internal/domain"
	"github.com/2389/tutor-gateway/internal/session"
	"github.com/2389/tutor-gateway/internal/store"
)

// Gateway serves the learner API on top of the coordinator.
type Gateway struct {
	config      *config.Config
	store       store.Store
	sessions    *session.Store
	agents      *agent.Registry
	dedupe      *dedupe.Cache
	coordinator *coordinator.Coordinator
	limiter     *ipRateLimiter
	httpServer  *http.Server
	logger      *slog.Logger

	stopSweeper context.CancelFunc
	sweeperDone <-chan struct{}
}

// initStore opens the SQLite database. TUTOR_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TUTOR_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildRegistry dials every configured agent. Dialing is lazy, so agents that
// are down at startup show up as degraded outcomes rather than a boot failure.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*agent.Registry, error) {
	settings, err := cfg.AgentSettings()
	if err != nil {
		return nil, err
	}

	caps := make([]domain.Capability, 0, len(settings))
	for c := range settings {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return domain.CompareCapabilities(caps[i], caps[j]) < 0 })

	registry := agent.NewRegistry(logger)
	for _, capability := range caps {
		ac := settings[capability]
		transports := make([]agent.Transport, 0, len(ac.Endpoints()))
		for _, addr := range ac.Endpoints() {
			t, err := agent.DialGRPC(addr)
			if err != nil {
				closeTransports(transports)
				_ = registry.Close()
				return nil, fmt.Errorf("agents.%s: %w", capability, err)
			}
			transports = append(transports, t)
		}

		client, err := agent.NewClient(agent.ClientConfig{
			Capability: capability,
			Transports: transports,
			Timeout:    ac.Timeout,
			RateLimit:  ac.RateLimit,
			Burst:      ac.Burst,
			Fallback:   ac.Fallback,
			Logger:     logger,
		})
		if err != nil {
			closeTransports(transports)
			_ = registry.Close()
			return nil, fmt.Errorf("agents.%s: %w", capability, err)
		}
		if err := registry.Register(client); err != nil {
			_ = client.Close()
			_ = registry.Close()
			return nil, err
		}
	}
	return registry, nil
}

func closeTransports(ts []agent.Transport) {
	for _, t := range ts {
		_ = t.Close()
	}
}

// New creates a gateway from configuration, opening the database and dialing agents.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	gw, err := newGateway(cfg, s, registry, logger)
	if err != nil {
		_ = registry.Close()
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway assembles the gateway around an already open store and registry.
func newGateway(cfg *config.Config, s store.Store, registry *agent.Registry, logger *slog.Logger) (*Gateway, error) {
	sessions := session.NewStore(s, cfg.Sessions.IdleTimeout, logger)
	dedupeCache := dedupe.New(cfg.Coordinator.DedupeTTL, cfg.Coordinator.DedupeSize)

	verifier := auth.NewProfileVerifier(auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)), s, logger)
	coord, err := coordinator.New(coordinator.Config{
		Verifier:   verifier,
		Sessions:   sessions,
		Agents:     registry,
		Calls:      s,
		Dedupe:     dedupeCache,
		MaxRetries: cfg.Coordinator.Retries(),
		Logger:     logger,
	})
	if err != nil {
		dedupeCache.Close()
		return nil, err
	}

	gw := &Gateway{
		config:      cfg,
		store:       s,
		sessions:    sessions,
		agents:      registry,
		dedupe:      dedupeCache,
		coordinator: coord,
		limiter:     newIPRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		logger:      logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return gw, nil
}

// Handler returns the HTTP handler serving the API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves HTTP until ctx is canceled or the server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	sweepCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	g.stopSweeper = stop
	g.sweeperDone = g.sessions.StartSweeper(sweepCtx, g.config.Sessions.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown runs Shutdown on a fresh context since the run context is already done.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and sweeper and closes agents, cache, and store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	if g.stopSweeper != nil {
		g.stopSweeper()
		select {
		case <-g.sweeperDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("session sweeper: %w", ctx.Err()))
		}
	}

	if err := g.agents.Close(); err != nil {
		errs = append(errs, fmt.Errorf("agent close: %w", err))
	}
	g.dedupe.Close()
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports database and per-agent readiness. It answers 503 when
// the database is unreachable or no agent is ready, since no request kind
// could then be served.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dbStatus := "ok"
	dbErr := g.store.Ping(ctx)
	if dbErr != nil {
		g.logger.Warn("database not ready", "error", dbErr)
		dbStatus = "unavailable"
	}

	health := g.agents.Ready(ctx)
	ready := 0
	for _, h := range health {
		if h.Ready {
			ready++
		}
	}

	status := http.StatusOK
	if ready == 0 || dbErr != nil {
		status = http.StatusServiceUnavailable
	}
	g.sendJSON(w, status, map[string]any{
		"ready":    status == http.StatusOK,
		"database": dbStatus,
		"agents":   health,
	})
}
