package http

import (
	"encoding/json"
	"net/http"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Options struct {
	StaticDir       string
	AllowedOrigins  []string
	SendQueue       int
	MaxMessageBytes int64
	RateLimit       rate.Limit
	RateBurst       int
}

func DefaultOptions() Options {
	return Options{
		SendQueue:       256,
		MaxMessageBytes: 64 * 1024,
		RateLimit:       50,
		RateBurst:       100,
	}
}

type Handler struct {
	Relay  *service.Relay
	Hub    *ws.Hub
	opts   Options
	logger zerolog.Logger
}

func NewHandler(relay *service.Relay, hub *ws.Hub, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		Relay:  relay,
		Hub:    hub,
		opts:   opts,
		logger: logger,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", h.health)
	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", h.listRooms)
		r.Get("/{roomID}", h.getRoom)
	})

	if h.opts.StaticDir != "" {
		fs := http.FileServer(http.Dir(h.opts.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.Hub.Count(),
	})
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Relay.Rooms())
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	id := domain.RoomID(chi.URLParam(r, "roomID"))
	snap, ok := h.Relay.Room(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
