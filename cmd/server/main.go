package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ieraasyl/LearnHub/internal/activity"
	"github.com/ieraasyl/LearnHub/internal/authsync"
	"github.com/ieraasyl/LearnHub/internal/database"
	"github.com/ieraasyl/LearnHub/internal/handlers"
	"github.com/ieraasyl/LearnHub/internal/identity"
	"github.com/ieraasyl/LearnHub/internal/middleware"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/ieraasyl/LearnHub/internal/progress"
	"github.com/ieraasyl/LearnHub/internal/services"
	"github.com/ieraasyl/LearnHub/pkg/cache"
	"github.com/ieraasyl/LearnHub/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("env", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("client_id", cfg.Client.ID).
		Msg("Starting learner agent")

	// Initialize PostgreSQL
	postgresDB, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer postgresDB.Close()

	if err := postgresDB.RunMigrations(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize Redis
	redisDB, err := database.NewRedisDB(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisDB.Close()

	// Initialize cache
	cacheInstance := cache.NewCache(redisDB.Client())
	courseCache := cache.NewCourseCache(cacheInstance, postgresDB, cfg.Cache.CourseTTL, cfg.Cache.Enabled)

	// Initialize the directory client
	tokenService := services.NewTokenService(&cfg.JWT, redisDB)
	sessionService := services.NewSessionService(redisDB, cfg.JWT.RefreshExpiry)

	directoryOpts := services.DirectoryOptions{
		ClientID:     cfg.Client.ID,
		DeviceName:   cfg.Client.DeviceName,
		PasswordCost: cfg.Client.PasswordCost,
	}
	if cfg.OAuth.Enabled() {
		directoryOpts.OAuth = services.NewOAuthService(&cfg.OAuth, postgresDB)
	} else {
		log.Warn().Msg("Google OAuth is not configured, OAuth sign-in disabled")
	}
	directory := services.NewDirectoryClient(postgresDB, redisDB, redisDB, tokenService, sessionService, directoryOpts)

	// Initialize identity, activity and progress
	recorder := activity.NewRecorder(postgresDB)
	resolver := identity.NewResolver(postgresDB, recorder, identity.Options{
		ProfileFetchTimeout: cfg.Identity.ProfileFetchTimeout,
		LoginRecordTimeout:  cfg.Identity.LoginRecordTimeout,
	})
	progressService := progress.NewService(postgresDB, courseCache, recorder, cfg.Rewards)

	// Start the session synchronization engine
	engine, err := authsync.New(directory, directory, resolver, authsync.Options{
		SessionFetchTimeout: cfg.Identity.SessionFetchTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start auth engine")
	}

	listenCtx, stopListening := context.WithCancel(context.Background())
	defer stopListening()
	go func() {
		if err := directory.Listen(listenCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Directory event listener stopped")
		}
	}()

	// Restoring the session does not block startup; /ready reports it.
	go func() {
		state, err := engine.Initialize(listenCtx)
		if err != nil {
			log.Warn().Err(err).Msg("Auth state initialized without a session")
			return
		}
		log.Info().Bool("signed_in", state.SignedIn()).Str("role", string(state.Role)).Msg("Auth state initialized")
	}()

	// Initialize handlers
	isProduction := cfg.Server.Environment == "production"
	authHandler := handlers.NewAuthHandler(engine, directory, isProduction, cfg.Server.FrontendURL)
	streamHandler := handlers.NewStreamHandler(engine, cfg.CORS.AllowedOrigins)
	progressHandler := handlers.NewProgressHandler(progressService)
	healthHandler := handlers.NewHealthHandler(postgresDB, redisDB, engine)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisDB, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowDuration)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	// Health check endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", middleware.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		// The websocket outlives the request timeout and must not be compressed.
		r.Get("/auth/stream", streamHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Compress(5))
			r.Use(chimiddleware.Timeout(60 * time.Second))

			r.Route("/auth", func(r chi.Router) {
				r.Get("/state", authHandler.State)
				r.Post("/sign-out", authHandler.SignOut)

				// Credential endpoints (rate limited)
				r.Group(func(r chi.Router) {
					r.Use(rateLimiter.Limit("auth"))
					r.Post("/sign-in", authHandler.SignIn)
					r.Post("/sign-up", authHandler.SignUp)
					r.Get("/google/login", authHandler.GoogleLogin)
					r.Get("/google/callback", authHandler.GoogleCallback)
				})

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireSession(engine))
					r.Patch("/user", authHandler.UpdateUser)
					r.With(rateLimiter.Limit("password")).Post("/password", authHandler.UpdatePassword)
					r.Get("/sessions", authHandler.ListSessions)
					r.Delete("/sessions/{id}", authHandler.RevokeSession)
				})
			})

			// Learner routes (require a signed-in, resolved identity)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSession(engine))

				r.Get("/progress/streak", progressHandler.Streak)
				r.Get("/progress/weekly", progressHandler.Weekly)
				r.Get("/progress/overview", progressHandler.Overview)
				r.Get("/progress/activity", progressHandler.Activity)

				r.Get("/courses/{courseID}/progress", progressHandler.CourseProgress)
				r.Post("/courses/{courseID}/lessons/{lessonID}/complete", progressHandler.CompleteLesson)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireSession(engine))
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Delete("/users/{id}", authHandler.DeleteUser)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	streamHandler.Close()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	stopListening()
	engine.Close()
	resolver.Wait()

	log.Info().Msg("Server stopped gracefully")
}
