package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/veriwave/veriwave/internal/config"
	"github.com/veriwave/veriwave/internal/health"
	"github.com/veriwave/veriwave/internal/observe"
	"github.com/veriwave/veriwave/pkg/detect"
)

// drainTimeout bounds how long shutdown waits for live sessions to finish
// their close handshakes.
const drainTimeout = 10 * time.Second

// Server ties the WebSocket detection endpoint, the session registry, and
// the HTTP surface (health, stats, metrics) together.
type Server struct {
	cfg      *config.Config
	registry *Registry
	invoker  *detect.Invoker
	detector detect.Detector
	metrics  *observe.Metrics

	// settings holds the per-connection parameters that a config reload may
	// replace while the server is running.
	settings atomic.Pointer[connSettings]
}

// connSettings are the hot-reloadable parameters handed to each new session.
// Established sessions keep the values they were created with.
type connSettings struct {
	buffer       config.BufferConfig
	messageRate  float64
	messageBurst int
}

// New creates a [Server] serving detections from the given backend. The
// registry is created here and drained on [Server.Run] exit.
func New(cfg *config.Config, detector detect.Detector, metrics *observe.Metrics) *Server {
	srv := &Server{
		cfg:      cfg,
		registry: NewRegistry(cfg.Server.DuplicatePolicy),
		invoker:  detect.NewInvoker(detector),
		detector: detector,
		metrics:  metrics,
	}
	srv.ApplyConfig(cfg)
	return srv
}

// ApplyConfig adopts the hot-reloadable parts of cfg: the windowing geometry
// and the message rate limit for connections opened from now on. Listen
// address, TLS, and duplicate policy stay as configured at startup.
func (srv *Server) ApplyConfig(cfg *config.Config) {
	srv.settings.Store(&connSettings{
		buffer:       cfg.Buffer,
		messageRate:  cfg.Server.MessageRate,
		messageBurst: cfg.Server.MessageBurst,
	})
}

// Registry exposes the session registry, mainly for tests and stats.
func (srv *Server) Registry() *Registry {
	return srv.registry
}

// Handler returns the full HTTP handler: the detection WebSocket at
// /ws/detect plus health, stats, and Prometheus metrics endpoints, wrapped
// in the observability middleware.
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	h := health.New(health.DetectorChecker("detector", srv.detector))
	h.Register(mux)

	mux.HandleFunc("GET /stats", srv.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/ws/detect", srv.handleWebSocket)

	return observe.Middleware(srv.metrics)(mux)
}

// handleStats serves the aggregate snapshot over all live sessions.
func (srv *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(srv.registry.Snapshot()); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// handleWebSocket upgrades the connection and hands it to a session. The
// session goroutine is the request handler goroutine; it returns when the
// session is done.
func (srv *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	settings := srv.settings.Load()
	session, err := NewSession(SessionConfig{
		Conn:         &wsConn{conn: c},
		Registry:     srv.registry,
		Invoker:      srv.invoker,
		Metrics:      srv.metrics,
		Backend:      srv.cfg.Detector.Backend,
		Buffer:       settings.buffer,
		MessageRate:  settings.messageRate,
		MessageBurst: settings.messageBurst,
	})
	if err != nil {
		slog.Error("session setup failed", "err", err)
		c.Close(websocket.StatusInternalError, "server misconfigured")
		return
	}

	session.Run(r.Context())
}

// Run serves until ctx is cancelled, then shuts the HTTP server down and
// drains live sessions.
func (srv *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              srv.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := srv.cfg.Server.TLS; tls != nil {
			slog.Info("listening with TLS", "addr", srv.cfg.Server.ListenAddr)
			err = httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", srv.cfg.Server.ListenAddr)
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()

		srv.registry.Drain(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// wsConn adapts [websocket.Conn] to the [Conn] seam.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(code StatusCode, reason string) error {
	return w.conn.Close(code, reason)
}
