package server

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BioHazard786/carecall/internal/signaling"
)

// Options configures the HTTP surface of the relay.
type Options struct {
	// AllowedOrigins lists browser origins allowed to connect. "*" allows any.
	AllowedOrigins []string
	Limits         signaling.Limits
}

// Server exposes the hub over HTTP.
type Server struct {
	hub      *signaling.Hub
	opts     Options
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func New(hub *signaling.Hub, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{hub: hub, opts: opts, log: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Routes returns the relay's HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.ServeWs)
	return r
}

// ServeWs upgrades the request and hands the connection to the hub.
func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.log.Warn("failed to upgrade connection", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}

	client := signaling.NewClient(s.hub, conn, s.opts.Limits)
	if !s.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

type healthResponse struct {
	Status string `json:"status"`
	signaling.Stats
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{Status: "ok", Stats: s.hub.Stats()})
}

// checkOrigin lets non-browser clients through; they send no Origin header.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
}
