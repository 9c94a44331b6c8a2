// Package server wires the HTTP surface: session routes, org-scoped review
// routes, and the token-gated watch routes, each behind its own rate limit.
package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cutroom/cutroom/internal/auth"
	"github.com/cutroom/cutroom/internal/database"
	"github.com/cutroom/cutroom/internal/geoip"
	"github.com/cutroom/cutroom/internal/organization"
	"github.com/cutroom/cutroom/internal/ratelimit"
	"github.com/cutroom/cutroom/internal/share"
	"github.com/cutroom/cutroom/internal/video"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB               database.DBTX
	Pinger           Pinger
	Storage          video.ObjectStorage
	JWTSecret        string
	BaseURL          string
	MaxUploadBytes   int64
	S3PublicEndpoint string
	Transcoder       video.Transcoder
	CommentNotifier  video.CommentNotifier
	GeoResolver      *geoip.Resolver
}

type Server struct {
	router       chi.Router
	db           database.DBTX
	pinger       Pinger
	authHandler  *auth.Handler
	orgHandler   *organization.Handler
	videoHandler *video.Handler
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.S3PublicEndpoint,
	}))

	s := &Server{router: r, db: cfg.DB, pinger: cfg.Pinger}

	if cfg.DB != nil {
		jwtSecret := cfg.JWTSecret
		if jwtSecret == "" {
			log.Fatal("JWT_SECRET is required; set the environment variable")
		}

		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}

		secureCookies := strings.HasPrefix(baseURL, "https://")
		s.authHandler = auth.NewHandler(cfg.DB, jwtSecret, secureCookies)
		s.orgHandler = organization.NewHandler(cfg.DB)
		s.videoHandler = video.NewHandler(cfg.DB, cfg.Storage, share.NewAuthority(cfg.DB), share.NewStore(), baseURL, cfg.MaxUploadBytes)
		if cfg.Transcoder != nil {
			s.videoHandler.SetTranscoder(cfg.Transcoder)
		}
		if cfg.CommentNotifier != nil {
			s.videoHandler.SetCommentNotifier(cfg.CommentNotifier)
		}
		if cfg.GeoResolver != nil {
			s.videoHandler.SetGeoResolver(cfg.GeoResolver)
		}
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	if s.authHandler != nil {
		authLimiter := ratelimit.NewLimiter(0.5, 5)
		s.router.Route("/api/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", s.authHandler.Register)
			r.Post("/login", s.authHandler.Login)
			r.Post("/refresh", s.authHandler.Refresh)
			r.Post("/logout", s.authHandler.Logout)
		})
	}

	if s.videoHandler != nil {
		apiLimiter := ratelimit.NewLimiter(2, 10)
		s.router.Group(func(r chi.Router) {
			r.Use(apiLimiter.Middleware)
			r.Use(s.authHandler.Middleware)
			r.Use(organization.Middleware(s.db))

			r.Route("/api/organizations", func(r chi.Router) {
				r.Post("/", s.orgHandler.Create)
				r.Get("/", s.orgHandler.List)
				r.Post("/reconcile-storage", s.orgHandler.ReconcileStorage)
			})

			r.Route("/api/videos", func(r chi.Router) {
				r.Post("/", s.videoHandler.Create)
				r.Get("/", s.videoHandler.List)
				r.Patch("/{id}", s.videoHandler.Update)
				r.Delete("/{id}", s.videoHandler.Delete)
				r.Get("/{id}/comments", s.videoHandler.ListOwnerComments)
				r.Post("/{id}/comments", s.videoHandler.PostOwnerComment)
				r.Delete("/{id}/comments/{commentId}", s.videoHandler.DeleteComment)
			})

			r.Route("/api/galleries", func(r chi.Router) {
				r.Post("/", s.videoHandler.CreateGallery)
				r.Get("/", s.videoHandler.ListGalleries)
				r.Get("/{id}", s.videoHandler.GetGallery)
				r.Patch("/{id}", s.videoHandler.UpdateGallery)
				r.Delete("/{id}", s.videoHandler.DeleteGallery)
				r.Post("/{id}/videos", s.videoHandler.AddGalleryVideos)
				r.Delete("/{id}/videos/{videoId}", s.videoHandler.RemoveGalleryVideo)
				r.Put("/{id}/stacks", s.videoHandler.UpdateGalleryStacks)
			})

			r.Route("/api/shares", func(r chi.Router) {
				r.Post("/", s.videoHandler.CreateShare)
				r.Get("/", s.videoHandler.ListShares)
				r.Delete("/{id}", s.videoHandler.DeleteShare)
			})
		})

		// The watch surface authenticates with share tokens, not sessions.
		watchLimiter := ratelimit.NewLimiter(5, 20)
		s.router.Route("/api/watch", func(r chi.Router) {
			r.Use(watchLimiter.Middleware)
			r.Get("/", s.videoHandler.Watch)
			r.Get("/videos/{id}", s.videoHandler.WatchVideo)
			r.Get("/videos/{id}/comments", s.videoHandler.ListWatchComments)
			r.Post("/videos/{id}/comments", s.videoHandler.PostWatchComment)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
