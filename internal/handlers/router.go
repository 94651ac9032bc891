package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig gathers what the daemon's router serves.
type RouterConfig struct {
	Scopes    *ScopeHandler
	Messages  *MessageHandler
	Presence  *PresenceHandler
	WS        http.HandlerFunc
	Metrics   http.Handler
	Sessions  func() int
	Origins   []string
	StartedAt time.Time
}

// NewRouter sets up the daemon's routes and middleware stack.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", HealthCheck(cfg.Sessions, cfg.StartedAt))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.WS != nil {
		r.Get("/ws/{kind}/{id}", cfg.WS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", cfg.Scopes.ListGroups)
			r.Post("/{id}/join", cfg.Scopes.JoinGroup)
			r.Post("/{id}/leave", cfg.Scopes.LeaveGroup)
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", cfg.Scopes.ListSessions)
			r.Post("/", cfg.Scopes.OpenSession)
			r.Route("/{kind}/{id}", func(r chi.Router) {
				r.Delete("/", cfg.Scopes.CloseSession)
				r.Post("/history", cfg.Messages.ReloadHistory)
				r.Get("/messages", cfg.Messages.GetMessages)
				r.Post("/messages", cfg.Messages.SendMessage)
				r.Post("/voice", cfg.Messages.SendVoice)
				r.Get("/timeline", cfg.Messages.GetTimeline)
				r.Get("/draft", cfg.Messages.GetDraft)
				r.Put("/draft", cfg.Messages.PutDraft)
				r.Post("/presence/{signal}", cfg.Presence.Signal)
			})
		})
	})
	return r
}
