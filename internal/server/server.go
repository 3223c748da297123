// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It connects handlers, middleware and
// routes, and owns the long-lived resources (the database and the outreach
// dispatcher) so that shutdown can release them in order.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB ─┬─ AuthService ─────────── AuthHandler
//	             ├─ LeadService ─────────── LeadHandler
//	             ├─ SequenceService ─────── SequenceHandler
//	             └─ outreach.Dispatcher (background)
//	  backend.Client ─┬─ DiscoveryService ─ DiscoveryHandler
//	                  └─ FolderService ──── FolderHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/creatorhub/internal/auth"
	"github.com/sakif/creatorhub/internal/backend"
	"github.com/sakif/creatorhub/internal/config"
	"github.com/sakif/creatorhub/internal/handler"
	"github.com/sakif/creatorhub/internal/middleware"
	"github.com/sakif/creatorhub/internal/outreach"
	sqliteRepo "github.com/sakif/creatorhub/internal/repository/sqlite"
	"github.com/sakif/creatorhub/internal/service"
)

// shutdownTimeout is how long in-flight requests get to finish after a
// shutdown signal.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the dispatcher. Start() stops
// the dispatcher first, then drains HTTP, then closes the database.
type Server struct {
	router     *chi.Mux
	config     *config.Config
	logger     *slog.Logger
	db         *sqliteRepo.DB
	tokens     *auth.TokenService
	dispatcher *outreach.Dispatcher
}

// New creates a Server from cfg. The database is opened and migrated here,
// so a bad path fails before anything listens.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		// Sessions will not survive a restart.
		secret, err = randomSecret()
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Warn("JWT secret not configured, using a random one for this process")
	}
	tokens, err := auth.NewTokenService(secret)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		tokens: tokens,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close() // Clean up DB if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /  /pricing  /faq  /privacy  /dashboard    → pages (HTML)
//	GET    /static/*                                   → static files
//	POST   /auth/signup | /auth/login | /auth/logout
//	GET    /auth/google/login | /auth/google/callback
//	       /api/*                                      → JSON, session required
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID, so the access log can print it
// 2. RealIP, so proxied requests log the client address
// 3. Recoverer turns a panic into a 500
// 4. Logger writes one line per request
func (s *Server) setupRoutes() error {
	cfg := s.config

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// === Static Files ===
	// GET /static/css/app.css → serves {StaticDir}/css/app.css
	fileServer := http.FileServer(http.Dir(cfg.Server.StaticDir))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	// === Services ===
	client, err := backend.NewClient(cfg.Backend.URL, backend.Options{
		Timeout:    cfg.Backend.Timeout,
		RatePerSec: cfg.Backend.RatePerSec,
		Burst:      cfg.Backend.Burst,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}

	authService := service.NewAuthService(s.db.Users(), s.tokens, auth.NewPasswordService(), cfg.Auth.SignupCredits, s.logger)
	leadService := service.NewLeadService(s.db.Leads(), s.db.Sequences(), s.db.Messages(), s.logger)
	sequenceService := service.NewSequenceService(s.db.Sequences(), s.db.Leads(), s.db.Messages(), s.db.Users(), s.logger)
	discoveryService := service.NewDiscoveryService(client, s.db.Users(), leadService, service.DiscoveryConfig{
		LookupTTL:    cfg.Backend.LookupTTL,
		PollInterval: cfg.Backend.PollInterval,
	}, s.logger)
	folderService := service.NewFolderService(client, s.logger)

	if cfg.Outreach.Enabled {
		s.dispatcher = NewDispatcher(cfg, s.db, s.logger)
	}

	// === Handlers ===
	// A nil *GoogleProvider in a GoogleLogin interface would not compare
	// equal to nil, so the interface stays unset when Google is off.
	var google handler.GoogleLogin
	if cfg.GoogleEnabled() {
		google = auth.NewGoogleProvider(cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret, cfg.Auth.GoogleCallbackURL)
	}
	secureCookies := strings.HasPrefix(cfg.Server.BaseURL, "https://")

	pageHandler, err := handler.NewPageHandler(cfg.Server.TemplateDir, cfg.GoogleEnabled(), s.logger)
	if err != nil {
		return fmt.Errorf("creating page handler: %w", err)
	}
	authHandler := handler.NewAuthHandler(authService, google, secureCookies, s.logger)
	leadHandler := handler.NewLeadHandler(leadService, s.logger)
	sequenceHandler := handler.NewSequenceHandler(sequenceService, s.logger)
	discoveryHandler := handler.NewDiscoveryHandler(discoveryService, s.logger)
	folderHandler := handler.NewFolderHandler(folderService, s.logger)

	// === Page Routes ===
	// Pages render for everyone; OptionalAuth only decides which nav to show.
	s.router.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(s.tokens))
		r.Get("/", pageHandler.HandleLanding)
		r.Get("/pricing", pageHandler.HandlePricing)
		r.Get("/faq", pageHandler.HandleFAQ)
		r.Get("/privacy", pageHandler.HandlePrivacy)
		r.Get("/dashboard", pageHandler.HandleDashboard)
	})

	// === Auth Routes ===
	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.HandleSignUp)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
		r.Get("/google/login", authHandler.HandleGoogleLogin)
		r.Get("/google/callback", authHandler.HandleGoogleCallback)
	})

	// === API Routes ===
	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(s.tokens))
		r.Get("/me", authHandler.HandleMe)

		r.Get("/leads", leadHandler.HandleList)
		r.Post("/leads", leadHandler.HandleCreate)
		r.Get("/leads/stats", leadHandler.HandleStats)
		r.Post("/leads/bulk-delete", leadHandler.HandleBulkDelete)
		r.Post("/leads/import", leadHandler.HandleImport)
		r.Post("/leads/enroll", leadHandler.HandleEnroll)
		r.Get("/leads/{id}", leadHandler.HandleGet)
		r.Put("/leads/{id}", leadHandler.HandleUpdate)
		r.Delete("/leads/{id}", leadHandler.HandleDelete)
		r.Post("/leads/{id}/pause", leadHandler.HandlePause)
		r.Post("/leads/{id}/resume", leadHandler.HandleResume)
		r.Post("/leads/{id}/reply", leadHandler.HandleReply)
		r.Get("/leads/{id}/history", leadHandler.HandleHistory)

		r.Get("/sequences", sequenceHandler.HandleList)
		r.Post("/sequences", sequenceHandler.HandleCreate)
		r.Get("/sequences/{id}", sequenceHandler.HandleGet)
		r.Put("/sequences/{id}", sequenceHandler.HandleUpdate)
		r.Delete("/sequences/{id}", sequenceHandler.HandleDelete)
		r.Post("/sequences/{id}/duplicate", sequenceHandler.HandleDuplicate)
		r.Get("/sequences/{id}/preview", sequenceHandler.HandlePreview)

		r.Get("/discovery/lookups", discoveryHandler.HandleLookups)
		r.Post("/discovery/search", discoveryHandler.HandleSearch)
		r.Get("/discovery/progress", discoveryHandler.HandleProgress)
		r.Get("/discovery/progress/stream", discoveryHandler.HandleProgressStream)
		r.Post("/discovery/terminate", discoveryHandler.HandleTerminate)
		r.Post("/discovery/filters", discoveryHandler.HandleSaveFilter)
		r.Get("/discovery/streamers", discoveryHandler.HandleStreamers)
		r.Post("/discovery/streamers/crm", discoveryHandler.HandleAddToCRM)
		r.Post("/discovery/streamers/{id}/favourite", discoveryHandler.HandleFavourite)
		r.Post("/discovery/streamers/{id}/move", discoveryHandler.HandleMove)
		r.Delete("/discovery/streamers/{id}", discoveryHandler.HandleDeleteStreamer)

		r.Get("/folders", folderHandler.HandleList)
		r.Post("/folders", folderHandler.HandleCreate)
		r.Delete("/folders/{id}", folderHandler.HandleDelete)
	})

	return nil
}

// NewDispatcher builds the outreach dispatcher over db. The CLI uses it
// directly for one-off passes.
func NewDispatcher(cfg *config.Config, db *sqliteRepo.DB, logger *slog.Logger) *outreach.Dispatcher {
	return outreach.NewDispatcher(
		db.Leads(), db.Sequences(), db.Users(), db.Messages(),
		newMailer(cfg, logger),
		outreach.DispatchConfig{
			From:           cfg.Outreach.FromAddress,
			MaxPerDay:      cfg.Outreach.MaxPerDay,
			SendsPerMinute: cfg.Outreach.SendsPerMinute,
		},
		logger,
	)
}

// newMailer picks SMTP when a host is configured and otherwise logs each
// message instead of sending it.
func newMailer(cfg *config.Config, logger *slog.Logger) outreach.Mailer {
	o := cfg.Outreach
	if o.SMTPHost == "" {
		logger.Warn("SMTP host not configured, outreach emails will only be logged")
		return outreach.NewLogMailer(logger)
	}
	return outreach.NewSMTPMailer(outreach.SMTPConfig{
		Host:     o.SMTPHost,
		Port:     o.SMTPPort,
		Username: o.SMTPUsername,
		Password: o.SMTPPassword,
	})
}

// Start starts the HTTP server and the dispatcher, and handles graceful
// shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop the dispatcher (a pass in progress finishes its current send)
// 2. Stop accepting new HTTP connections
// 3. Wait for in-flight requests to finish (30s timeout)
// 4. Close the database connection
func (s *Server) Start() error {
	// Runs last, after the dispatcher and HTTP have stopped.
	defer s.db.Close()

	// Request contexts derive from baseCtx. Cancelling it on shutdown ends
	// open progress streams, which Shutdown would otherwise wait out.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	if s.dispatcher != nil {
		go func() {
			defer close(dispatchDone)
			s.dispatcher.Start(dispatchCtx, s.config.Outreach.Interval)
		}()
	} else {
		close(dispatchDone)
	}
	defer func() {
		stopDispatch()
		<-dispatchDone
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", s.config.Server.BaseURL),
			slog.String("database", s.config.Database.Path),
			slog.String("backend", s.config.Backend.URL),
			slog.Bool("outreach", s.dispatcher != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		stopDispatch()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close releases the database. Only needed when Start is never called.
func (s *Server) Close() error {
	return s.db.Close()
}
