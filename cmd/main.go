package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/franciscosanchezn/gin-pkce-server/docs" // Import generated docs
	"github.com/franciscosanchezn/gin-pkce-server/internal/auth"
	"github.com/franciscosanchezn/gin-pkce-server/internal/config"
	"github.com/franciscosanchezn/gin-pkce-server/internal/controllers"
	"github.com/franciscosanchezn/gin-pkce-server/internal/database"
	"github.com/franciscosanchezn/gin-pkce-server/internal/metrics"
	"github.com/franciscosanchezn/gin-pkce-server/internal/middleware"
	"github.com/franciscosanchezn/gin-pkce-server/internal/services"
)

const (
	serviceName     = "gin-pkce-server"
	shutdownTimeout = 10 * time.Second
)

var (
	configuration   *config.Config
	dispatcher      *auth.Dispatcher
	auditService    services.AuditService
	oauthController *controllers.OAuthController
	telemetry       *metrics.Metrics
)

// @title PKCE Authorization Server
// @version 1.0
// @description OAuth2 authorization code grant with PKCE, consent and a protected resource
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.
func main() {
	// Load environment variables
	loadDotenvFile()

	// Initialize logger
	setUpLogger()

	// Load configuration
	configuration = loadConfig()
	applyLogLevel(configuration)

	// Audit trail is optional
	auditService = setupAudit(configuration)

	// Start the protocol engine and seed the configured client
	telemetry = metrics.New()
	dispatcher = setupDispatcher(configuration)
	seedClient(configuration)

	oauthController = controllers.NewOAuthController(dispatcher, log.WithField("component", "http"))

	// Initialize Gin router
	router := setupRouter()

	server := &http.Server{
		Addr:              fmt.Sprintf("%v:%d", configuration.Host, configuration.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdown(server)
}

// checkPanicErr checks if an error occurred and panics if it did
func checkPanicErr(err error) {
	if err != nil {
		panic(err)
	}
}

// loadDotenvFile loads environment variables from a .env file
// If the file is not found, it will log a warning and use system environment variables
func loadDotenvFile() {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found, using system environment variables")
	}
}

// setUpLogger initializes the logger with a JSON formatter and sets the log level based on the environment
func setUpLogger() {
	log.SetFormatter(&log.JSONFormatter{})
	environment := config.GetEnvWithDefault("APP_ENV", "development")
	switch environment {
	case "development":
		log.SetLevel(log.DebugLevel)
	case "production":
		log.SetLevel(log.ErrorLevel)
		gin.SetMode(gin.ReleaseMode)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// applyLogLevel lets an explicit LOG_LEVEL override the environment default
func applyLogLevel(conf *config.Config) {
	if os.Getenv("LOG_LEVEL") == "" {
		return
	}
	level, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		log.WithField("log_level", conf.LogLevel).Warn("Ignoring unknown LOG_LEVEL")
		return
	}
	log.SetLevel(level)
}

// loadConfig loads the application configuration from environment variables
// It returns a Config struct or panics if there is an error
func loadConfig() *config.Config {
	log.Info("Loading configuration from environment variables")
	conf, err := config.LoadConfig()
	checkPanicErr(err)
	log.Infof("Configuration loaded: %s", conf)
	return conf
}

// setupAudit opens the audit database and starts the audit writer
func setupAudit(conf *config.Config) services.AuditService {
	if conf.AuditDriver == config.AuditDriverNone {
		log.Info("Audit trail disabled")
		return nil
	}
	db, err := database.InitDatabase(conf.AuditDatabase())
	checkPanicErr(err)
	return services.NewAuditService(db, 0, log.WithField("component", "audit"))
}

// setupDispatcher builds the engine and hands it to the dispatcher
func setupDispatcher(conf *config.Config) *auth.Dispatcher {
	var generator auth.TokenGenerator
	if conf.TokenFormat == config.TokenFormatJWT {
		generator = auth.NewJWTGenerator([]byte(conf.JWTSecret), jwt.SigningMethodHS512, serviceName)
	}

	engine := auth.NewEngine(auth.EngineConfig{
		CodeTTL: conf.CodeTTL,
		Tokens: auth.TokenConfig{
			AccessTokenTTL:      conf.AccessTokenTTL,
			RefreshTokenTTL:     conf.RefreshTokenTTL,
			RotateRefreshTokens: conf.RotateRefreshTokens,
		},
		PKCERequired: conf.PKCERequired,
		Generator:    generator,
		Log:          log.StandardLogger(),
	})

	mode, err := auth.ParseSolicitorMode(conf.ConsentMode)
	checkPanicErr(err)

	opts := []auth.Option{
		auth.WithQueueSize(conf.QueueSize),
		auth.WithSweepInterval(conf.SweepInterval),
		auth.WithSolicitor(auth.Solicitor{Mode: mode, OwnerID: conf.ConsentOwner}),
		auth.WithMetrics(telemetry),
		auth.WithLogger(log.WithField("component", "dispatcher")),
	}
	if auditService != nil {
		opts = append(opts, auth.WithAuditSink(auditService))
	}
	return auth.NewDispatcher(engine, opts...)
}

// seedClient registers the client configured through SEED_* variables
func seedClient(conf *config.Config) {
	clientService := services.NewClientService(dispatcher, log.WithField("component", "clients"))
	_, err := clientService.CreateClient(context.Background(), services.ClientRequest{
		ID:          conf.SeedClientID,
		RedirectURI: conf.SeedRedirectURI,
		Scope:       conf.SeedScope,
		Secret:      conf.SeedClientSecret,
	})
	checkPanicErr(err)
}

// setupRouter initializes the Gin router and sets up the routes
// It returns the configured router
func setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log.WithField("component", "http")))
	router.Use(middleware.RateLimit(
		middleware.NewRateLimiter(configuration.RateLimitRPS, configuration.RateLimitBurst),
		telemetry.RateLimited,
	))

	setupRoutes(router)

	return router
}

// setupRoutes defines the routes for the Gin router
func setupRoutes(router *gin.Engine) {
	// Health check endpoint
	router.GET("/health", healthCheckHandler)
	router.GET("/metrics", gin.WrapH(telemetry.Handler()))

	bearer := middleware.BearerConfig{
		Checker: dispatcher,
		Realm:   serviceName,
		Deny:    oauthController.DenyPage,
	}
	if configuration.TokenFormat == config.TokenFormatJWT {
		bearer.JWTSecret = []byte(configuration.JWTSecret)
	}
	bearerAuth := middleware.BearerAuth(bearer)
	guards := []gin.HandlerFunc{bearerAuth}
	if configuration.ResourceScope != "" {
		guards = append(guards, middleware.RequireScope(configuration.ResourceScope))
	}
	controllers.RegisterRoutes(router, oauthController, guards...)

	// Audit trail, readable with a token granting AUDIT_SCOPE
	if auditService != nil {
		auditController := controllers.NewAuditController(auditService, log.WithField("component", "audit"))
		controllers.RegisterAuditRoutes(router, auditController,
			bearerAuth, middleware.RequireScope(configuration.AuditScope))
	}

	// Demo client
	router.Static("/static", "./static")
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/static/index.html")
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// healthCheckHandler handles the health check endpoint
// @Summary Health check
// @Description Check if the service is running
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheckHandler(c *gin.Context) {
	stats, err := dispatcher.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"service": serviceName,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"service":        serviceName,
		"codes":          stats.Codes,
		"access_tokens":  stats.AccessTokens,
		"refresh_tokens": stats.RefreshTokens,
	})
}

// shutdown drains HTTP traffic, then the dispatcher, then the audit writer
func shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	dispatcher.Close()
	if auditService != nil {
		auditService.Close()
	}
	log.Info("Shutdown complete")
}
