package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"chatgenius/internal/config"
	"chatgenius/internal/database"
	"chatgenius/internal/mail"
	"chatgenius/internal/server"
	"chatgenius/internal/stats"
)

type App struct {
	log            *log.Logger
	db             database.Repository
	mux            *http.Server
	cs             *server.ChatServer
	mailer         mail.Mailer
	stats          stats.Provider
	cfg            *config.Config
	signingKey     []byte
	allowedOrigins []string
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.Repository, mailer mail.Mailer, su stats.Provider, cfg *config.Config) *App {
	s := &App{
		log:            logger,
		db:             db,
		cs:             cs,
		mailer:         mailer,
		stats:          su,
		cfg:            cfg,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/magic-link", s.requestMagicLink)
	mux.HandleFunc("GET /api/auth/verify", s.verifyMagicLink)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("POST /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/channels", s.authMiddleware(s.listChannels))
	mux.HandleFunc("POST /api/channels", s.authMiddleware(s.createChannel))
	mux.HandleFunc("DELETE /api/channels/{id}", s.authMiddleware(s.deleteChannel))
	mux.HandleFunc("POST /api/channels/{id}/members", s.authMiddleware(s.joinChannel))
	mux.HandleFunc("GET /api/channels/{id}/messages", s.authMiddleware(s.listMessages))
	mux.HandleFunc("POST /api/channels/{id}/messages", s.authMiddleware(s.createMessage))
	mux.HandleFunc("DELETE /api/channels/{id}/messages/{messageId}", s.authMiddleware(s.deleteMessage))
	mux.HandleFunc("POST /api/channels/{id}/messages/{messageId}/reactions", s.authMiddleware(s.addReaction))
	mux.HandleFunc("DELETE /api/channels/{id}/messages/{messageId}/reactions", s.authMiddleware(s.removeReaction))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /healthz", s.healthCheck)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
