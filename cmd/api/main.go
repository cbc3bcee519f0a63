package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/carserv/carserv-api/internal/domain"
	"github.com/carserv/carserv-api/internal/handlers"
	"github.com/carserv/carserv-api/internal/mailer"
	"github.com/carserv/carserv-api/internal/repository"
	"github.com/carserv/carserv-api/internal/service"
	"github.com/carserv/carserv-api/pkg/config"
	"github.com/carserv/carserv-api/pkg/database"
	"github.com/carserv/carserv-api/pkg/events"
	"github.com/carserv/carserv-api/pkg/logger"
	mw "github.com/carserv/carserv-api/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	// Connect to the document store
	ctx := context.Background()
	client, err := database.Connect(ctx, cfg.Mongo)
	if err != nil {
		logger.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect(context.Background())
	db := client.Database(cfg.Mongo.Database)

	// Connect to Redis for rate limiting
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	rateLimitRepo := repository.NewRateLimitRepository(redisClient)

	if err := userRepo.EnsureIndexes(ctx); err != nil {
		logger.Error("Failed to create user indexes", "error", err)
		os.Exit(1)
	}
	if err := bookingRepo.EnsureIndexes(ctx); err != nil {
		logger.Error("Failed to create booking indexes", "error", err)
		os.Exit(1)
	}

	// Pick mailer implementation
	var mailService mailer.Service
	if cfg.Email.DevMode {
		mailService = mailer.NewDevMailer()
	} else {
		mailService = mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.FromEmail)
	}

	// Initialize services
	authService := service.NewAuthService(userRepo, eventBus, cfg)
	bookingService := service.NewBookingService(bookingRepo, userRepo, mailService, eventBus)

	// Initialize handlers
	h := handlers.New(authService, bookingService, rateLimitRepo, cfg)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(mw.Health)

	// Routes
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Backend server is running"))
	})

	r.Route("/api", func(r chi.Router) {
		r.With(h.AuthRateLimit(10, time.Minute)).Post("/register", h.Register)
		r.With(h.AuthRateLimit(10, time.Minute)).Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireJWT)
			r.Post("/bookings", h.CreateBooking)
			r.Get("/bookings", h.ListBookings)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireRole(domain.RoleAdmin))
				r.Get("/bookings", h.ListAllBookings)
			})
		})
	})

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	logger.Info("Starting server", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
