// Package server wires the whole application together: it opens the two
// databases, builds the services, connects handlers to routes, and runs the
// HTTP server with graceful shutdown.
//
// This is the composition root — every dependency chain is assembled here
// and nowhere else. Handlers receive services, services receive the store
// and each other, and only this package knows the concrete types behind the
// interfaces.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/config"
	docsqlite "github.com/memora-app/memora/internal/docstore/sqlite"
	"github.com/memora-app/memora/internal/email"
	"github.com/memora-app/memora/internal/handler"
	"github.com/memora-app/memora/internal/identity"
	"github.com/memora-app/memora/internal/invite"
	"github.com/memora-app/memora/internal/middleware"
	"github.com/memora-app/memora/internal/policy"
	"github.com/memora-app/memora/internal/service"
)

// Server owns the router and the two database connections. Both connections
// are closed during graceful shutdown; the document store in particular must
// flush its WAL before the process exits.
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	logger   *slog.Logger
	docstore *docsqlite.DB
	accounts *identity.DB
}

// New assembles the full dependency graph.
//
// The document store is created with the access policy baked in: every
// read and write anywhere in the system passes through policy.Rules(),
// there is no unguarded path to the data.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := docsqlite.New(cfg.DocstorePath, policy.Rules())
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	accounts, err := identity.New(cfg.IdentityDBPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening identity database: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		cfg:      cfg,
		logger:   logger,
		docstore: store,
		accounts: accounts,
	}

	if err := s.setupRoutes(); err != nil {
		store.Close()
		accounts.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func (s *Server) setupRoutes() error {
	// Global middleware, in order: request id, real client IP, panic
	// recovery, then our structured request log.
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// Shared infrastructure services.
	tokens, err := auth.NewTokenService(s.cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	invites, err := invite.NewSigner(s.cfg.InviteSecret)
	if err != nil {
		return fmt.Errorf("creating invite signer: %w", err)
	}
	mailer, err := email.NewMailer(context.Background(), s.cfg.AWSRegion, s.cfg.SESFromEmail, s.cfg.SESFromName, s.logger)
	if err != nil {
		return fmt.Errorf("creating mailer: %w", err)
	}

	passwords := auth.NewPasswordService()
	google := auth.NewGoogleProvider(s.cfg.GoogleClientID, s.cfg.GoogleClientSecret, s.cfg.GoogleCallbackURL)

	// Business services. The provisioner is shared: the auth service runs
	// it after every successful authentication.
	provisioner := service.NewProvisioningService(s.docstore, s.logger)
	authSvc := service.NewAuthService(s.accounts, tokens, passwords, provisioner, invites, s.logger)
	familySvc := service.NewFamilyService(s.docstore, invites, mailer, s.cfg.AppBaseURL, s.logger)
	storySvc := service.NewStoryService(s.docstore, s.logger)
	deviceSvc := service.NewDeviceService(s.docstore, s.logger)

	authHandler := handler.NewAuthHandler(authSvc, google, s.logger)
	profileHandler := handler.NewProfileHandler(s.docstore, s.logger)
	familyHandler := handler.NewFamilyHandler(familySvc, s.logger)
	storyHandler := handler.NewStoryHandler(storySvc, s.logger)
	deviceHandler := handler.NewDeviceHandler(deviceSvc, s.logger)

	// Public authentication routes.
	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.HandleSignup)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
		r.Get("/google/login", authHandler.HandleGoogleLogin)
		r.Get("/google/callback", authHandler.HandleGoogleCallback)
	})

	// Everything under /api requires a valid session.
	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))

		r.Get("/me", profileHandler.HandleGet)
		r.Put("/me", profileHandler.HandlePut)
		r.Get("/me/identity", authHandler.HandleMe)

		r.Get("/family", familyHandler.HandleGet)
		r.Post("/family/join", familyHandler.HandleJoin)
		r.Post("/family/invite-link", familyHandler.HandleInviteLink)
		r.Post("/family/invite", familyHandler.HandleInviteEmail)
		r.Delete("/family/members/{memberID}", familyHandler.HandleRemoveMember)

		r.Get("/stories", storyHandler.HandleList)
		r.Post("/stories", storyHandler.HandleCreate)
		r.Get("/stories/{id}", storyHandler.HandleGet)
		r.Put("/stories/{id}/transcription", storyHandler.HandleSetTranscription)
		r.Post("/stories/{id}/donate", storyHandler.HandleDonate)

		r.Get("/devices", deviceHandler.HandleList)
		r.Post("/devices", deviceHandler.HandleRegister)
		r.Post("/devices/{id}/activate", deviceHandler.HandleActivate)
	})

	return nil
}

// Handler exposes the assembled router, mainly for tests that drive the
// server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the server's database connections. Start does this itself
// on shutdown; Close is for tests and callers that never Start.
func (s *Server) Close() {
	s.docstore.Close()
	s.accounts.Close()
}

// Start runs the HTTP server until a shutdown signal arrives, then drains
// in-flight requests and closes both databases.
func (s *Server) Start() error {
	defer s.docstore.Close()
	defer s.accounts.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("docstore", s.cfg.DocstorePath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
