package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopmonkeyus/go-common/logger"
)

// Publisher delivers change events to the configured sinks. Delivery must
// never block the caller.
type Publisher interface {
	Publish(event internal.ChangeEvent)
}

// Config carries the server dependencies.
type Config struct {
	Logger    logger.Logger
	Registry  internal.SchemaRegistry
	Store     *store.Store
	Publisher Publisher
	Auth      *Authenticator
	Port      int
	ServerID  string
	Version   string
}

// Server is the REST front end: one set of CRUD routes shared by every model
// in the registry. Models are resolved per request so schema reloads take
// effect without a restart.
type Server struct {
	logger    logger.Logger
	registry  internal.SchemaRegistry
	store     *store.Store
	publisher Publisher
	auth      *Authenticator
	serverID  string
	version   string
	started   time.Time
	server    *http.Server
}

// New constructs a server with its routes and middleware wired up.
func New(cfg Config) *Server {
	s := &Server{
		logger:    cfg.Logger.WithPrefix("[api]"),
		registry:  cfg.Registry,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		auth:      cfg.Auth,
		serverID:  cfg.ServerID,
		version:   cfg.Version,
		started:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handle(mux, "GET /v1/models", "models", s.handleModels)
	s.handle(mux, "GET /v1/stats", "stats", s.handleStats)
	s.handle(mux, "GET /v1/{model}", "list", s.handleList)
	s.handle(mux, "POST /v1/{model}", "create", s.handleCreate)
	s.handle(mux, "GET /v1/{model}/schema", "schema", s.handleModelSchema)
	s.handle(mux, "GET /v1/{model}/{id}", "get", s.handleGet)
	s.handle(mux, "PUT /v1/{model}/{id}", "update", s.handleUpdate)
	s.handle(mux, "DELETE /v1/{model}/{id}", "delete", s.handleDelete)
	s.handle(mux, "GET /v1/{model}/{id}/{relation}", "related", s.handleRelated)
	s.handle(mux, "POST /v1/{model}/{id}/{relation}/{related}", "attach", s.handleAttach)
	s.handle(mux, "DELETE /v1/{model}/{id}/{relation}/{related}", "detach", s.handleDetach)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until it exits or errors.
func (s *Server) Run() error {
	s.logger.Info("api server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("shutting down api server")
	return s.server.Shutdown(ctx)
}

// statusWriter captures the response code for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(buf []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(buf)
}

// handle registers a route wrapped with panic recovery, request logging and
// the prometheus request counters.
func (s *Server) handle(mux *http.ServeMux, pattern string, operation string, handler http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic handling %s %s: %v\n%s", r.Method, r.URL.Path, rec, string(debug.Stack()))
				if !sw.wrote {
					respondError(sw, http.StatusInternalServerError, "internal error")
				}
			}
			model := r.PathValue("model")
			if model == "" {
				model = "-"
			}
			internal.RequestCount.WithLabelValues(model, operation, strconv.Itoa(sw.status)).Inc()
			internal.RequestDuration.Observe(time.Since(started).Seconds())
			s.logger.Trace("%s %s %d (%v)", r.Method, r.URL.Path, sw.status, time.Since(started))
		}()
		handler(sw, r)
	})
}

// resolveModel looks up the model named in the request path.
func (s *Server) resolveModel(w http.ResponseWriter, r *http.Request) (*internal.Model, bool) {
	m, err := s.registry.Model(r.PathValue("model"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return m, true
}

// pathPK coerces the id path segment to the model's primary key type.
func (s *Server) pathPK(w http.ResponseWriter, r *http.Request, m *internal.Model) (any, bool) {
	f := m.PrimaryKeyField()
	pk, err := internal.CoerceValue(f.Type, r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %s", f.Name, err))
		return nil, false
	}
	return pk, true
}

// fail logs the backend error and hides the detail from the client.
func (s *Server) fail(w http.ResponseWriter, what string, m *internal.Model, err error) {
	s.logger.Error("%s %s failed: %s", what, m.Name, err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

// publish emits a change event when a publisher is configured.
func (s *Server) publish(op string, m *internal.Model, pk any, before internal.Record, after internal.Record, diff []string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(internal.NewChangeEvent(op, m, fmt.Sprintf("%v", pk), before, after, diff, s.serverID))
}
