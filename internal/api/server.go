package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/metrics"
	"github.com/JakeFAU/channel-relay/internal/relay"
)

const defaultPostLimit = 100

// Store is the persistence the HTTP surface reads and administers.
type Store interface {
	relay.PostQuery
	AddSource(ctx context.Context, username string) error
	DeleteSource(ctx context.Context, username string) error
	Ping(ctx context.Context) error
}

// Config tunes the server.
type Config struct {
	RequestTimeout time.Duration
	// APIKey guards the /v1 operator routes when set.
	APIKey string
}

// Server wires HTTP handlers to the store.
type Server struct {
	router chi.Router
	store  Store
	clock  relay.Clock
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store Store, clock relay.Clock, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{store: store, clock: clock, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/posts", s.listPosts)

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/sources", s.addSource)
		r.Delete("/sources/{username}", s.deleteSource)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	filter, err := s.postFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	posts, err := s.store.ListPosts(r.Context(), filter)
	if err != nil {
		s.logger.Error("List posts failed", zap.String("channel", filter.Source), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// postFilter parses the query string of GET /posts.
func (s *Server) postFilter(r *http.Request) (relay.PostFilter, error) {
	q := r.URL.Query()
	filter := relay.PostFilter{
		Source: relay.NormalizeHandle(q.Get("channel")),
		Limit:  defaultPostLimit,
		Order:  relay.OrderDesc,
	}
	if filter.Source == "" {
		return filter, errors.New("channel is required")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = n
	}
	switch order := strings.ToLower(q.Get("order")); order {
	case "":
	case string(relay.OrderAsc), string(relay.OrderDesc):
		filter.Order = relay.Order(order)
	default:
		return filter, errors.New("order must be asc or desc")
	}
	if v := q.Get("unmarked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("unmarked must be a boolean")
		}
		filter.Unmarked = b
	}
	// unmarked wins over marked.
	if v := q.Get("marked"); v != "" && !filter.Unmarked {
		mark, ok := relay.ParseMark(v)
		if !ok {
			return filter, errors.New("marked must be used or ad")
		}
		filter.Mark = mark
	}
	if v := q.Get("days_ago"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return filter, errors.New("days_ago must be a non-negative integer")
		}
		if days > 0 {
			after := s.clock.Now().UTC().AddDate(0, 0, -days)
			filter.CreatedAfter = &after
		}
	}
	return filter, nil
}

type sourceRequest struct {
	Username string `json:"username"`
}

func (s *Server) addSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	handle := relay.NormalizeHandle(req.Username)
	if handle == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if err := s.store.AddSource(r.Context(), handle); err != nil {
		s.logger.Error("Add source failed", zap.String("username", handle), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add source")
		return
	}
	s.logger.Info("Source added", zap.String("username", handle))
	writeJSON(w, http.StatusCreated, map[string]string{"username": handle})
}

func (s *Server) deleteSource(w http.ResponseWriter, r *http.Request) {
	handle := relay.NormalizeHandle(chi.URLParam(r, "username"))
	err := s.store.DeleteSource(r.Context(), handle)
	switch {
	case errors.Is(err, relay.ErrNotFound):
		writeError(w, http.StatusNotFound, "source not found")
	case err != nil:
		s.logger.Error("Delete source failed", zap.String("username", handle), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete source")
	default:
		s.logger.Info("Source deleted", zap.String("username", handle))
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("Write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
