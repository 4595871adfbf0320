// ABOUTME: Gateway orchestrator that coordinates gRPC and HTTP servers
// ABOUTME: Wires store, engine, conversation service, metrics and auth, and manages their lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/coven-concierge/internal/agent"
	"github.com/2389/coven-concierge/internal/auth"
	"github.com/2389/coven-concierge/internal/config"
	"github.com/2389/coven-concierge/internal/conversation"
	"github.com/2389/coven-concierge/internal/dedupe"
	"github.com/2389/coven-concierge/internal/metrics"
	"github.com/2389/coven-concierge/internal/store"
)

// HealthService is the grpc.health.v1 service name reported alongside the
// server-wide ("") status.
const HealthService = "coven.concierge.Conversation"

// Gateway serves the conversation service over HTTP and reports health over gRPC.
type Gateway struct {
	config       *config.Config
	store        store.SessionStore
	conversation *conversation.Service
	broadcaster  *conversation.Broadcaster
	metrics      *metrics.Collector
	turnKeys     *dedupe.Window
	markdown     goldmark.Markdown
	grpcServer   *grpc.Server
	health       *health.Server
	httpServer   *http.Server
	logger       *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// StoreOptions maps the database and redis sections onto store.Options.
func StoreOptions(cfg *config.Config) store.Options {
	return store.Options{
		Driver:        cfg.Database.Driver,
		Path:          cfg.Database.Path,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   cfg.Redis.Prefix,
		RedisTTL:      cfg.Redis.TTL,
	}
}

// NewEngine creates the agent engine named by the engine section.
func NewEngine(cfg config.EngineConfig, logger *slog.Logger) (agent.Engine, error) {
	switch cfg.Kind {
	case config.EngineEcho, "":
		var opts []agent.EchoOption
		if len(cfg.Routes) > 0 {
			opts = append(opts, agent.WithRoutes(cfg.Routes))
		}
		return agent.NewEchoEngine(cfg.RootAgent, logger, opts...), nil
	case config.EngineRemote:
		return agent.NewRemoteEngine(cfg.URL, nil, logger), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}

// New creates a new Gateway instance with the given configuration. The store
// is opened and pinged; servers are not started until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.Open(ctx, StoreOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	engine, err := NewEngine(cfg.Engine, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	gw, err := newGateway(cfg, s, engine, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway wires an already opened store and engine.
func newGateway(cfg *config.Config, s store.SessionStore, engine agent.Engine, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	broadcaster := conversation.NewBroadcaster(logger.With("component", "broadcaster"))
	collector := metrics.New()

	opts := []conversation.Option{
		conversation.WithAppName(cfg.App.Name),
		conversation.WithBroadcaster(broadcaster),
		conversation.WithObserver(collector),
	}
	if cfg.App.InitialState != nil {
		opts = append(opts, conversation.WithInitialState(cfg.App.InitialState))
	}

	gw := &Gateway{
		config:       cfg,
		store:        s,
		conversation: conversation.New(s, engine, logger, opts...),
		broadcaster:  broadcaster,
		metrics:      collector,
		turnKeys:     dedupe.New(cfg.Server.IdempotencyTTL, dedupe.DefaultMaxKeys),
		markdown:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:       logger.With("component", "gateway"),
	}

	gw.grpcServer, gw.health = createGRPCServer()

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /ready", gw.handleReady)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, collector.Handler())
	}

	if err := gw.registerHTTPAPIRoutes(mux); err != nil {
		gw.turnKeys.Close()
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// createGRPCServer creates a gRPC server carrying only the health service.
func createGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// registerHTTPAPIRoutes registers API routes behind the identity middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) error {
	// A nil *JWTVerifier must not reach the middleware as a non-nil interface.
	var verifier auth.TokenVerifier
	if g.config.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		verifier = v
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured", "default_user_id", g.config.App.DefaultUserID)
	}
	authMiddleware := auth.HTTPAuthMiddleware(verifier, g.config.App.DefaultUserID)

	mux.Handle("POST /api/sessions", authMiddleware(http.HandlerFunc(g.handleCreateSession)))
	mux.Handle("GET /api/sessions", authMiddleware(http.HandlerFunc(g.handleListSessions)))
	mux.Handle("GET /api/sessions/{id}", authMiddleware(http.HandlerFunc(g.handleGetSession)))
	mux.Handle("GET /api/sessions/{id}/history", authMiddleware(http.HandlerFunc(g.handleHistory)))
	mux.Handle("POST /api/sessions/{id}/turns", authMiddleware(http.HandlerFunc(g.handleTurn)))
	mux.Handle("GET /api/sessions/{id}/events", authMiddleware(http.HandlerFunc(g.handleEvents)))
	return nil
}

// Conversation returns the turn orchestrator, for in-process callers.
func (g *Gateway) Conversation() *conversation.Service {
	return g.conversation
}

// Handler returns the HTTP handler serving the API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
// grpcLn is nil when no gRPC address is configured.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupTCPListeners()
	if err != nil {
		if shutdownErr := g.gracefulShutdown(); shutdownErr != nil {
			g.logger.Error("shutdown after listen failure", "error", shutdownErr)
		}
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Event subscribers are closed first so their streams end before HTTP drains.
// Only the first call does work; later calls return its result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.health.Shutdown()
	g.broadcaster.Close()
	g.turnKeys.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the session store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
