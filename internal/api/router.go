// Package api serves the HTTP surface of the chat server: registration,
// login, profile uploads, user listing and search, plus the WebSocket and
// operational endpoints.
package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/huddle/chat-server/internal/account"
	"github.com/huddle/chat-server/internal/api/middleware"
	"github.com/huddle/chat-server/internal/auth"
	"github.com/huddle/chat-server/internal/directory"
	"github.com/huddle/chat-server/internal/gateway"
	"github.com/huddle/chat-server/internal/media"
	"github.com/huddle/chat-server/internal/metrics"
)

// Socket is the WebSocket endpoint.
type Socket interface {
	HandleUpgrade(w http.ResponseWriter, r *http.Request)
	HandleHealth(w http.ResponseWriter, r *http.Request)
}

// Deps are the components the routes are built from.
type Deps struct {
	Logger      zerolog.Logger
	Accounts    account.Store
	Issuer      *auth.Issuer
	Gateway     *gateway.Gateway
	Directory   *directory.Index
	Media       *media.DiskStore
	MediaPrefix string // URL prefix uploaded files are served under
	Socket      Socket
	CORSOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := NewHandler(d)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", d.Socket.HandleHealth)
	r.Get("/ws", d.Socket.HandleUpgrade)

	prefix := d.MediaPrefix
	if prefix == "" {
		prefix = "/uploads/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	r.Handle(prefix+"*", http.StripPrefix(prefix, http.FileServer(http.Dir(d.Media.Dir()))))

	r.Post("/register", h.Register)
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(d.Issuer))

		r.Post("/upload-profile", h.UploadProfile)
		r.Get("/users", h.Users)
		r.Get("/search-users", h.SearchUsers)
	})

	return r
}
