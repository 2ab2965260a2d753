package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/vcrooms/internal/config"
	"github.com/ent0n29/vcrooms/internal/observability"
	"github.com/ent0n29/vcrooms/internal/privatevc"
)

// ConfigReader is the read side of the channel store.
type ConfigReader interface {
	GetConfig(ctx context.Context, channelID string) (privatevc.ChannelConfig, error)
	ListConfigs(ctx context.Context) ([]privatevc.ChannelConfig, error)
}

// Lifecycle is the part of privatevc.Manager the API reports on.
type Lifecycle interface {
	Running() bool
	Subscribe() (<-chan privatevc.Event, func())
}

// ReadyCheck returns an error while a dependency is not ready.
type ReadyCheck func(ctx context.Context) error

type Server struct {
	cfg       config.Config
	store     ConfigReader
	lifecycle Lifecycle
	metrics   *observability.Metrics
	log       zerolog.Logger
	upgrader  websocket.Upgrader

	mu     sync.RWMutex
	checks map[string]ReadyCheck
}

func New(cfg config.Config, store ConfigReader, lifecycle Lifecycle, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		lifecycle: lifecycle,
		metrics:   metrics,
		log:       logger.With().Str("component", "httpapi").Logger(),
		checks:    make(map[string]ReadyCheck),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// AddReadyCheck registers a dependency consulted by /readyz.
func (s *Server) AddReadyCheck(name string, check ReadyCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.AdminJWTSecret != "" {
			r.Use(requireJWT(s.cfg.AdminJWTSecret))
		}
		r.Get("/channels", s.handleListChannels)
		r.Get("/channels/{id}", s.handleGetChannel)
		r.Get("/events/ws", s.handleEventsWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.lifecycle != nil && s.lifecycle.Running(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := make(map[string]string)
	if s.lifecycle == nil || !s.lifecycle.Running() {
		failures["lifecycle"] = "not running"
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	checks := make(map[string]ReadyCheck, len(s.checks))
	for name, check := range s.checks {
		names = append(names, name)
		checks[name] = check
	}
	s.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "not_ready",
			"failures": failures,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type channelsResponse struct {
	Channels []privatevc.ChannelConfig `json:"channels"`
	Count    int                       `json:"count"`
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.store.ListConfigs(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list channels failed")
		respondError(w, http.StatusInternalServerError, "store_error", "could not list channels")
		return
	}
	if cfgs == nil {
		cfgs = []privatevc.ChannelConfig{}
	}
	respondJSON(w, http.StatusOK, channelsResponse{Channels: cfgs, Count: len(cfgs)})
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_channel_id", "missing channel id")
		return
	}
	cfg, err := s.store.GetConfig(r.Context(), id)
	if err != nil {
		if errors.Is(err, privatevc.ErrNotFound) {
			respondError(w, http.StatusNotFound, "channel_not_found", "channel is not a managed private vc")
			return
		}
		s.log.Error().Err(err).Str("channel_id", id).Msg("get channel failed")
		respondError(w, http.StatusInternalServerError, "store_error", "could not load channel")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
