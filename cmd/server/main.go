package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/borderway/rideshare-backend/internal/config"
	"github.com/borderway/rideshare-backend/internal/database"
	"github.com/borderway/rideshare-backend/internal/handlers"
	"github.com/borderway/rideshare-backend/internal/middleware"
	"github.com/borderway/rideshare-backend/internal/services"
	"github.com/borderway/rideshare-backend/pkg/jwt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting Borderway Rideshare Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Initialize repositories
	tripRepository := database.NewTripRepository(db)
	bookingRepository := database.NewBookingRepository(db)
	userRepository := database.NewUserRepository(db)
	conversationRepository := database.NewConversationRepository(db)

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(
		cfg.JWT.Secret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTokenExpiry,
		cfg.JWT.RefreshTokenExpiry,
	)
	stripeService := services.NewStripeService(&cfg.Stripe, logger)
	refundPolicy := services.NewRefundPolicy()

	ledgerService := services.NewBookingLedgerService(
		db,
		bookingRepository,
		tripRepository,
		userRepository,
		conversationRepository,
		stripeService,
		refundPolicy,
		cfg.Stripe.Currency,
		logger,
	)
	tripService := services.NewTripService(db, tripRepository, bookingRepository, userRepository, stripeService, logger)
	connectService := services.NewConnectService(userRepository, stripeService, logger)
	webhookService := services.NewWebhookService(bookingRepository, ledgerService, stripeService, logger)

	// Initialize and start the payout sweeper
	sweeperService := services.NewPayoutSweeperService(
		db,
		bookingRepository,
		tripRepository,
		userRepository,
		stripeService,
		&cfg.Sweeper,
		cfg.Stripe.Currency,
		logger,
	)
	if err := sweeperService.Start(); err != nil {
		logger.Fatalf("Failed to start payout sweeper: %v", err)
	}

	logger.Info("Services initialized")

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(ledgerService, logger)
	tripHandler := handlers.NewTripHandler(tripService, ledgerService, logger)
	webhookHandler := handlers.NewWebhookHandler(webhookService, logger)
	connectHandler := handlers.NewConnectHandler(connectService, logger)
	sweepHandler := handlers.NewSweepHandler(sweeperService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Trip browsing (public)
		v1.GET("/trips", tripHandler.List)
		v1.GET("/trips/:id", tripHandler.Get)

		// Gateway webhooks (authenticated by signature, not JWT)
		v1.POST("/webhooks/stripe", webhookHandler.Handle)

		// Trip management (protected)
		trips := v1.Group("/trips")
		trips.Use(middleware.AuthMiddleware(jwtService))
		{
			trips.POST("", tripHandler.Create)
			trips.GET("/mine", tripHandler.ListMine)
			trips.POST("/:id/publish", tripHandler.Publish)
			trips.POST("/:id/cancel", tripHandler.Cancel)
			trips.GET("/:id/bookings", tripHandler.ListBookings)
		}

		// Booking lifecycle (protected)
		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService))
		{
			bookings.POST("", bookingHandler.Create)
			bookings.GET("", bookingHandler.List)
			bookings.GET("/:id", bookingHandler.Get)
			bookings.GET("/:id/details", bookingHandler.Details)
			bookings.POST("/:id/confirm", bookingHandler.Confirm)
			bookings.POST("/:id/cancel", bookingHandler.Cancel)
			bookings.POST("/:id/complete", bookingHandler.Complete)
		}

		// Driver payout onboarding (protected)
		connect := v1.Group("/connect")
		connect.Use(middleware.AuthMiddleware(jwtService))
		{
			connect.POST("/onboarding", connectHandler.StartOnboarding)
			connect.GET("/status", connectHandler.GetStatus)
		}

		// Operational sweep controls (protected)
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService))
		{
			admin.POST("/sweep/run", sweepHandler.Run)
			admin.GET("/sweep/status", sweepHandler.Status)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop the sweeper before closing the database it writes to
	sweeperService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}

		entry := logger.WithFields(fields)

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
