// Package server exposes error ingestion and crash report management over HTTP
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/armorclaw/errsink/internal/metrics"
	"github.com/armorclaw/errsink/pkg/errchain"
	"github.com/armorclaw/errsink/pkg/logger"
	"github.com/armorclaw/errsink/pkg/report"
	"github.com/armorclaw/errsink/pkg/triage"
)

// DefaultMaxBodyBytes caps an ingested error document
const DefaultMaxBodyBytes = 64 << 10

// Ingester receives decoded errors; usually the async runtime's OnError
type Ingester interface {
	OnError(err error)
}

// Triager previews a verdict without acting on it
type Triager interface {
	Triage(raw error) triage.Verdict
}

// ReportStore is the read side of the crash report store
type ReportStore interface {
	Query(ctx context.Context, q report.ReportQuery) ([]report.StoredReport, error)
	Get(ctx context.Context, traceID string) (*report.StoredReport, error)
	Stats(ctx context.Context) (report.StoreStats, error)
}

// Resolver changes the lifecycle of stored reports
type Resolver interface {
	Resolve(ctx context.Context, traceID, by string) error
	Unresolve(ctx context.Context, traceID string) error
	Delete(ctx context.Context, traceID string) error
}

// CrashReporter files a crash report for an error that must not be triaged
type CrashReporter interface {
	Report(err error)
}

// Options configures a Server. Ingest is required; without a Store the
// report endpoints answer 503. Handler panics go to Reporter, or to Ingest
// when no Reporter is set.
type Options struct {
	Addr         string
	IngestRate   float64 // submissions per second; zero disables limiting
	IngestBurst  int
	MaxBodyBytes int64

	Ingest   Ingester
	Triager  Triager
	Store    ReportStore
	Resolver Resolver
	Reporter CrashReporter
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *logger.Logger
}

// Server is the errsink HTTP API
type Server struct {
	opts    Options
	router  chi.Router
	limiter *rate.Limiter
	log     *logger.Logger
}

// New creates a server and its routes
func New(opts Options) (*Server, error) {
	if opts.Ingest == nil {
		return nil, fmt.Errorf("ingester is required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global().WithComponent("server")
	}

	s := &Server{opts: opts, log: opts.Logger}
	if opts.IngestRate > 0 {
		burst := opts.IngestBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.IngestRate), burst)
	}

	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.opts.Gatherer))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/errors", s.handleIngest)
		r.Post("/triage", s.handleTriage)
		r.Get("/stats", s.handleStats)

		r.Route("/reports", func(r chi.Router) {
			r.Use(s.requireStore)
			r.Get("/", s.handleListReports)
			r.Get("/{traceID}", s.handleGetReport)
			r.Delete("/{traceID}", s.handleDeleteReport)
			r.Post("/{traceID}/resolve", s.handleResolve)
			r.Post("/{traceID}/unresolve", s.handleUnresolve)
		})
	})

	return r
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

// recoverer files a crash report for a handler panic and answers 500
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			crash := errchain.FromPanic(v)
			if s.opts.Reporter != nil {
				s.opts.Reporter.Report(crash)
			} else {
				s.opts.Ingest.OnError(crash)
			}
			writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Store == nil {
			writeError(w, http.StatusServiceUnavailable, codeUnavailable, "report store is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}
