package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	rtsup "github.com/rdjerrouf/Chicago-Event-Monitor/internal/runtime/supervisor"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

type ServerConfig struct {
	Addr string
	Path string
}

// Server exposes the recorder and a liveness endpoint over HTTP.
type Server struct {
	cfg    ServerConfig
	rec    *Recorder
	log    logx.Logger
	health func() error
}

// NewServer builds the endpoint. health, when set, backs /healthz: a non-nil
// error turns it into a 503 carrying the error text.
func NewServer(cfg ServerConfig, rec *Recorder, health func() error, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/metrics"
	}
	return &Server{cfg: cfg, rec: rec, health: health, log: log.With(logx.String("comp", "metrics"))}
}

// Handler is the mux served by Run.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.rec.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			if err := s.health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start runs the server under sup, restarting it if it exits unexpectedly.
func (s *Server) Start(sup *rtsup.Supervisor) {
	sup.GoRestart("metrics.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

func (s *Server) serveOnce(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:9464"
	}
	if !isLoopbackAddr(addr) {
		s.log.Warn("metrics endpoint bound to a non-loopback address", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	s.log.Info("metrics started", logx.String("addr", ln.Addr().String()), logx.String("path", s.cfg.Path))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("metrics server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
