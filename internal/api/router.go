package api

import (
	"net/http"
	"time"

	"github.com/ernie/rally/internal/arena"
	"github.com/ernie/rally/internal/auth"
	"github.com/ernie/rally/internal/storage"
	"github.com/ernie/rally/internal/tournament"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options tunes the transport
type Options struct {
	AllowedOrigins []string
	WriteTimeout   time.Duration
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux          *http.ServeMux
	store        *storage.Store
	arena        *arena.Coordinator
	tournaments  *tournament.Orchestrator
	auth         *auth.Service
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, coord *arena.Coordinator, tournaments *tournament.Orchestrator, authService *auth.Service, opts Options) *Router {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	r := &Router{
		mux:         http.NewServeMux(),
		store:       store,
		arena:       coord,
		tournaments: tournaments,
		auth:        authService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		writeTimeout: opts.WriteTimeout,
		logger:       log.With().Str("component", "api").Logger(),
	}

	r.api("GET /api/players/{id}", r.handleGetPlayer)
	r.api("GET /api/players/{id}/matches", r.handleGetPlayerMatches)
	r.api("GET /api/leaderboard", r.handleGetLeaderboard)
	r.api("GET /api/matches", r.handleGetMatches)
	r.api("GET /api/rooms", r.handleGetRooms)
	r.api("GET /api/tournaments", r.handleListTournaments)
	r.api("GET /api/tournaments/{id}", r.handleGetTournament)

	r.api("POST /api/auth/login", r.handleLogin)
	r.api("GET /api/auth/check", r.handleAuthCheck)
	r.api("POST /api/auth/change-password", r.requireAuth(r.handleChangePassword))

	// The socket is never compressed; gzip writers cannot be hijacked
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// api registers a gzip-compressed JSON route
func (r *Router) api(pattern string, h http.HandlerFunc) {
	r.mux.Handle(pattern, gzhttp.GzipHandler(h))
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}
