package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/config"
	"github.com/slotworks/booking-engine/internal/database"
	"github.com/slotworks/booking-engine/internal/events"
	"github.com/slotworks/booking-engine/internal/handlers"
	"github.com/slotworks/booking-engine/internal/middleware"
	"github.com/slotworks/booking-engine/internal/models"
	"github.com/slotworks/booking-engine/internal/services"
	"github.com/slotworks/booking-engine/internal/telemetry"
	"github.com/slotworks/booking-engine/internal/utils"
	"github.com/slotworks/booking-engine/pkg/jwt"
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

	logger.Info("Starting booking engine")
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

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Tracing
	shutdownTracer, err := telemetry.InitTracer(rootCtx, cfg.Telemetry, cfg.Server.Environment, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Initialize database connection
	logger.WithField("driver", cfg.Database.Driver).Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if err := database.Migrate(rootCtx, db); err != nil {
		logger.Fatalf("Failed to apply schema: %v", err)
	}

	// Initialize repositories
	catalogRepo := database.NewCatalogRepository(db)
	reservationRepo := database.NewReservationRepository(db)
	intentRepo := database.NewPaymentIntentRepository(db)
	auditRepo := database.NewPaymentAuditRepository(db, logger)

	// Event publishers
	publisher := buildPublisher(cfg.Messaging, logger)
	defer publisher.Close()

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)

	gateway := services.NewPaymentGateway(cfg.Payment, cfg.Booking.MinorUnits, logger)
	paymentGate := services.NewPaymentGateService(
		intentRepo,
		gateway,
		auditRepo,
		publisher,
		services.PaymentGateConfigFrom(cfg.Payment, cfg.Booking.MinorUnits),
		logger,
	)
	orchestrator := services.NewBookingOrchestratorService(
		catalogRepo,
		reservationRepo,
		paymentGate,
		publisher,
		services.PolicyFromConfig(cfg.Booking),
		logger,
	)
	availabilityService := services.NewAvailabilityService(catalogRepo, reservationRepo, logger)
	logger.WithField("gateway", paymentGate.GatewayName()).Info("Payment gateway ready")

	// Payment confirmations over RabbitMQ
	if cfg.Messaging.AMQPURL != "" && cfg.Messaging.PaymentEventsQueue != "" {
		consumer, err := events.NewPaymentEventConsumer(
			cfg.Messaging.AMQPURL,
			cfg.Messaging.AMQPExchange,
			cfg.Messaging.PaymentEventsQueue,
			paymentGate,
			logger,
		)
		if err != nil {
			logger.Fatalf("Failed to start payment event consumer: %v", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				logger.WithError(err).Error("Payment event consumer stopped")
			}
		}()
		logger.WithField("queue", cfg.Messaging.PaymentEventsQueue).Info("Payment event consumer started")
	}

	// Background jobs
	cronService := services.NewCronService(paymentGate, logger)
	if cfg.Cron.Enabled {
		if err := cronService.Start(cfg.Cron.ReconcileSchedule, cfg.Cron.ExpirySchedule); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	}

	// Initialize handlers
	catalogHandler := handlers.NewCatalogHandler(catalogRepo, availabilityService, logger)
	bookingHandler := handlers.NewBookingHandler(orchestrator, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentGate, logger)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 1 && cfg.CORS.AllowedOrigins[0] == "*" {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck(db, version))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(db, version))

		catalog := v1.Group("/catalog")
		{
			catalog.GET("/locations", catalogHandler.ListLocations)
			catalog.GET("/time-slots", catalogHandler.ListTimeSlots)
		}
		v1.GET("/availability", middleware.OptionalAuth(jwtService), catalogHandler.GetAvailability)

		// Bookings: anonymous submissions are allowed, group management needs a token
		bookings := v1.Group("/bookings")
		{
			bookings.POST("", middleware.OptionalAuth(jwtService), bookingHandler.Submit)

			groups := bookings.Group("/groups")
			groups.Use(middleware.AuthMiddleware(jwtService))
			{
				groups.GET("", bookingHandler.ListMyGroups)
				groups.PUT("", bookingHandler.EditGroup)
				groups.DELETE("", bookingHandler.DeleteGroup)
			}
		}

		v1.GET("/reservations/:id", middleware.AuthMiddleware(jwtService), bookingHandler.GetReservation)
		v1.GET("/calendar/events", middleware.OptionalAuth(jwtService), bookingHandler.CalendarEvents)

		payments := v1.Group("/payments")
		{
			payments.POST("/webhook", paymentHandler.Webhook)
			payments.POST("/intents/:id/cancel", middleware.AuthMiddleware(jwtService), paymentHandler.CancelIntent)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService), middleware.RequireRole(models.RoleAdmin))
		{
			admin.GET("/bookings/groups", bookingHandler.ListAllGroups)
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

	// Stop background work first so nothing finalizes payments mid-shutdown
	logger.Info("Stopping cron service...")
	cronService.Stop()
	stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracer(ctx); err != nil {
		logger.Errorf("Failed to flush traces: %v", err)
	}

	logger.Info("Server exited successfully")
}

// buildPublisher fans booking events out to every configured broker
func buildPublisher(cfg config.MessagingConfig, logger *logrus.Logger) events.Publisher {
	var publishers []events.Publisher

	if cfg.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.WithError(err).Warn("RabbitMQ publisher unavailable, continuing without it")
		} else {
			publishers = append(publishers, p)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka publisher unavailable, continuing without it")
		} else {
			publishers = append(publishers, p)
		}
	}

	if len(publishers) == 0 {
		logger.Info("No event brokers configured, booking events are not published")
		return events.NoopPublisher{}
	}
	return events.NewMultiPublisher(logger, publishers...)
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		device := utils.ParseUserAgent(c.Request.UserAgent())

		fields := logrus.Fields{
			"status":      c.Writer.Status(),
			"method":      c.Request.Method,
			"path":        path,
			"query":       query,
			"ip":          utils.GetRealIP(c),
			"latency_ms":  latency.Milliseconds(),
			"device_type": device.DeviceType,
			"browser":     device.Browser,
			"has_auth":    c.GetHeader("Authorization") != "",
		}

		// Add user context if available
		if userID, exists := c.Get("user_id"); exists {
			fields["user_id"] = userID
		}
		if roles, exists := c.Get("roles"); exists {
			fields["roles"] = roles
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		// Log based on status code
		status := c.Writer.Status()
		if status >= 500 {
			entry.Error("Request completed with server error")
		} else if status >= 400 {
			entry.Warn("Request completed with client error")
		} else {
			entry.Info("Request completed successfully")
		}
	}
}
