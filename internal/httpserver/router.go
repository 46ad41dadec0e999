package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Alireza-Koohzad/Nova-chat/internal/config"
	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/security"
	"github.com/Alireza-Koohzad/Nova-chat/internal/service"
	"github.com/Alireza-Koohzad/Nova-chat/internal/ws"
)

// Deps bundles everything the router wires into handlers. Construction of
// repositories and services happens in main so both database drivers share
// the same wiring.
type Deps struct {
	Auth         *service.AuthService
	Users        *service.UserService
	Chats        *service.ChatService
	Membership   *service.MembershipService
	Orchestrator *ws.Orchestrator
	Hub          *ws.Hub
	Tokens       *security.TokenService
	UserRepo     domain.UserRepository
	Logger       *slog.Logger
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": cfg.AppName + " API",
			"version": "1.0.0",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		// Auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(d.Auth))
			r.Post("/login", handleLogin(d.Auth))
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Tokens, d.UserRepo))

			r.Post("/auth/logout", handleLogout(d.Auth))
			r.Get("/auth/me", handleMe())

			r.Route("/users", func(r chi.Router) {
				r.Get("/", handleListUsers(d.Users))
				r.Get("/online", handleListOnlineUsers(d.Users))
				r.Get("/search", handleSearchUsers(d.Users))
				r.Get("/{userID}", handleGetUser(d.Users))
			})

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", handleListChats(d.Chats))
				r.Post("/private/{recipientID}", handleCreatePrivateChat(d.Chats))
				r.Post("/groups", handleCreateGroup(d.Membership))
				r.Route("/{chatID}", func(r chi.Router) {
					r.Get("/", handleGetChat(d.Chats))
					r.Get("/messages", handleListMessages(d.Chats))
					r.Get("/members", handleListMembers(d.Membership))
					r.Post("/members", handleAddMember(d.Membership, d.Orchestrator))
					r.Delete("/members/{userID}", handleRemoveMember(d.Membership, d.Orchestrator))
					r.Post("/leave", handleLeaveChat(d.Membership, d.Orchestrator))
				})
			})

			r.Mount("/uploads", UploadRoutes(cfg))
		})
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(d.Hub, d.Orchestrator, d.Tokens, d.UserRepo, cfg.CORSOrigins, d.Logger))

	return r
}
