// Package status serves a read-only HTTP view of the running scheduler.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"paybybot/internal/eventbus"
	"paybybot/internal/notifier"
	"paybybot/internal/parking"
	"paybybot/internal/task/scheduler"
	logx "paybybot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8089"

type Config struct {
	Addr  string
	Debug bool
}

// Sources are read on every request. Nil sources answer with empty lists.
type Sources struct {
	Jobs          func() []scheduler.JobInfo
	Tasks         func() []string
	Notifications func() []notifier.HistoryItem
	Payments      PaymentLister
	Bus           eventbus.Bus
	Started       time.Time
}

type PaymentLister interface {
	ListPayments(ctx context.Context, limit int) ([]parking.PaymentRecord, error)
}

type Server struct {
	cfg Config
	src Sources
	log logx.Logger
}

func New(cfg Config, src Sources, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if src.Started.IsZero() {
		src.Started = time.Now()
	}
	return &Server{cfg: cfg, src: src, log: log}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/jobs", s.jobs)
	r.Get("/events", s.events)
	r.Get("/notifications", s.notifications)
	r.Get("/payments", s.payments)

	if s.cfg.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.log.Info("status server listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		s.log.Warn("status server shutdown", logx.Err(err))
	}
	s.log.Info("status server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	tasks := []string{}
	if s.src.Tasks != nil {
		tasks = s.src.Tasks()
	}
	jobs := 0
	if s.src.Jobs != nil {
		jobs = len(s.src.Jobs())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.src.Started).Round(time.Second).String(),
		"tasks":  tasks,
		"jobs":   jobs,
	})
}

func (s *Server) jobs(w http.ResponseWriter, r *http.Request) {
	out := []scheduler.JobInfo{}
	if s.src.Jobs != nil {
		out = s.src.Jobs()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	out := []eventbus.Event{}
	if s.src.Bus != nil {
		out = s.src.Bus.Recent(limitParam(r, 50))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) notifications(w http.ResponseWriter, r *http.Request) {
	out := []notifier.HistoryItem{}
	if s.src.Notifications != nil {
		out = s.src.Notifications()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) payments(w http.ResponseWriter, r *http.Request) {
	if s.src.Payments == nil {
		http.Error(w, "storage disabled", http.StatusNotFound)
		return
	}
	recs, err := s.src.Payments.ListPayments(r.Context(), limitParam(r, 50))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []parking.PaymentRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
