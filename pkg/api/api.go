package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/zeta/pkg/log"
	"github.com/cuemby/zeta/pkg/metrics"
	"github.com/cuemby/zeta/pkg/types"

	"github.com/rs/zerolog"
)

// Service is the subset of pkg/zeta.Service the HTTP layer drives.
type Service interface {
	CreateZeta(ctx context.Context, name, handlerSource string) (types.FunctionMetadata, error)
	DeleteZeta(ctx context.Context, name string) error
	Invoke(ctx context.Context, name string, params map[string]any) (map[string]any, error)
	ListZetas() ([]types.FunctionMetadata, error)
	GetZeta(name string) (types.FunctionMetadata, error)
}

// Server exposes the control-plane HTTP surface.
type Server struct {
	service    Service
	mux        *http.ServeMux
	logger     zerolog.Logger
	httpServer *http.Server
}

// NewServer builds a Server routing onto svc.
func NewServer(svc Service) *Server {
	s := &Server{
		service: svc,
		mux:     http.NewServeMux(),
		logger:  log.WithComponent("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /zeta/meta", s.instrument("list_zetas", s.handleList))
	s.mux.HandleFunc("GET /zeta/meta/{name}", s.instrument("get_zeta", s.handleGet))
	s.mux.HandleFunc("POST /zeta/create/{name}", s.instrument("create_zeta", s.handleCreate))
	s.mux.HandleFunc("POST /zeta/run/{name}", s.instrument("run_zeta", s.handleRun))
	s.mux.HandleFunc("DELETE /zeta/{name}", s.instrument("delete_zeta", s.handleDelete))
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.Handle("GET /health", metrics.HealthHandler())
	s.mux.Handle("GET /ready", metrics.ReadyHandler())
	s.mux.Handle("GET /live", metrics.LivenessHandler())
}

// Start listens and serves on addr until the process is interrupted or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 70 * time.Second, // ColdStart's 60s readiness wait plus margin
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer = srv
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// instrument wraps h with per-route request-count and duration metrics.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type envelope struct {
	Status       string                  `json:"status"`
	Message      string                  `json:"message,omitempty"`
	ZetaMetadata *types.FunctionMetadata `json:"zetaMetadata,omitempty"`
	Response     map[string]any          `json:"response,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	status := statusForKind(kind)
	writeJSON(w, status, envelope{Status: "Error", Message: err.Error()})
}

func statusForKind(kind types.Kind) int {
	switch kind {
	case types.KindInvalidInput:
		return http.StatusBadRequest
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindConflict:
		return http.StatusConflict
	case types.KindEngineUnavailable:
		return http.StatusServiceUnavailable
	case types.KindTransportError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	functions, err := s.service.ListZetas()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, functions)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	fm, err := s.service.GetZeta(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fm)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, types.Wrap(types.KindInvalidInput, "parse multipart form", err))
		return
	}
	file, _, err := r.FormFile("handler")
	if err != nil {
		writeError(w, types.Wrap(types.KindInvalidInput, "read handler file", err))
		return
	}
	defer file.Close()

	source, err := io.ReadAll(file)
	if err != nil {
		writeError(w, types.Wrap(types.KindInvalidInput, "read handler file", err))
		return
	}

	fm, err := s.service.CreateZeta(r.Context(), name, string(source))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, envelope{
		Status:       "Success",
		Message:      "zeta created",
		ZetaMetadata: &fm,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var params map[string]any
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil && err != io.EOF {
			writeError(w, types.Wrap(types.KindInvalidInput, "decode params", err))
			return
		}
	}

	response, err := s.service.Invoke(r.Context(), name, params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Status: "Success", Response: response})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.service.DeleteZeta(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
