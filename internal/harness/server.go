package harness

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/hostpage"
	"github.com/favloyalty/widgetbridge/internal/observability"
	"github.com/favloyalty/widgetbridge/model"
)

// Server exposes the runtime over HTTP.
type Server struct {
	runtime *Runtime
	logger  *zap.Logger
	router  chi.Router
}

// NewServer builds the HTTP API around a runtime.
func NewServer(runtime *Runtime, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runtime: runtime, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/page", s.handleSetPage)
		r.Put("/page", s.handleUpdatePage)
		r.Post("/widget/open", s.handleOpen)
		r.Post("/widget/close", s.handleClose)
		r.Post("/widget/toggle", s.handleToggle)
		r.Get("/state", s.handleState)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.runtime.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no page set"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleSetPage replaces the simulated host page and boots a fresh loader.
func (s *Server) handleSetPage(w http.ResponseWriter, r *http.Request) {
	var page hostpage.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&page); err != nil {
		writeError(w, http.StatusBadRequest, "invalid page snapshot: "+err.Error())
		return
	}

	if err := s.runtime.SetPage(r.Context(), page); err != nil {
		status := http.StatusInternalServerError
		var be *model.BridgeError
		if errors.As(err, &be) && be.Code == model.ErrCodeConfig {
			status = http.StatusUnprocessableEntity
		}
		observability.LoggerFrom(r.Context(), s.logger).Warn("page rejected", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.Inspect())
}

// handleUpdatePage mutates the page without rebooting, simulating in-page
// sign-in/sign-out.
func (s *Server) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	var page hostpage.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&page); err != nil {
		writeError(w, http.StatusBadRequest, "invalid page snapshot: "+err.Error())
		return
	}
	s.runtime.UpdatePage(page)
	writeJSON(w, http.StatusOK, s.runtime.Inspect())
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	s.widgetOp(w, func() error { return s.runtime.Open(r.Context()) })
}

func (s *Server) handleClose(w http.ResponseWriter, _ *http.Request) {
	s.widgetOp(w, s.runtime.Close)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.widgetOp(w, func() error { return s.runtime.Toggle(r.Context()) })
}

func (s *Server) widgetOp(w http.ResponseWriter, op func() error) {
	if err := op(); err != nil {
		if errors.Is(err, errNotBooted) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.Inspect())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.Inspect())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		reqLogger := s.logger.With(zap.String("requestId", middleware.GetReqID(r.Context())))
		r = r.WithContext(observability.WithLogger(r.Context(), reqLogger))
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestId", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
