package cmd

import (
	"database/sql"
	"net"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/medhire/auth-service/app/controller"
	"github.com/medhire/auth-service/app/events"
	"github.com/medhire/auth-service/app/mailer"
	"github.com/medhire/auth-service/app/middleware"
	"github.com/medhire/auth-service/app/repository"
	"github.com/medhire/auth-service/app/service"
	"github.com/medhire/auth-service/app/token"
	"github.com/medhire/auth-service/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogging(cfg)

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	userRepo := repository.NewUserRepository(db)
	refreshTokenRepo := repository.NewRefreshTokenRepository(db)
	resetRepo := repository.NewPasswordResetRepository(db)

	codec := token.NewCodec(
		cfg.JWT.Secret,
		cfg.Session.TokenHashSecret,
		cfg.Session.AccessTokenTTL,
		cfg.Session.RefreshTokenTTL,
	)

	var sink events.Sink = events.NewLogSink()
	var dispatcher mailer.Dispatcher = mailer.NewLogDispatcher()
	if cfg.AMQPURL != "" {
		sink = events.NewAMQPSink(cfg.AMQPURL)
		dispatcher = mailer.NewAMQPDispatcher(cfg.AMQPURL)
	}

	sessions := service.NewSessionService(db, userRepo, refreshTokenRepo, codec, cfg.Session, sink)
	passwordReset := service.NewPasswordResetService(db, userRepo, resetRepo, codec, cfg.Reset, dispatcher, sink)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	startHTTPServer(cfg, sessions, passwordReset, rdb)
}

func startHTTPServer(cfg *config.Config, sessions service.SessionService, passwordReset service.PasswordResetService, rdb *redis.Client) {
	e := echo.New()
	defer e.Close()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	authController := controller.NewAuthController(sessions, passwordReset)
	authMiddleware := middleware.NewAuthMiddleware(sessions)
	throttle := middleware.NewThrottle(cfg.Throttle, rdb)

	auth := e.Group("/auth")
	auth.POST("/register", authController.Register)
	auth.POST("/login", authController.Login, throttle)
	auth.POST("/refresh-token", authController.RefreshToken)
	auth.POST("/request-password-reset", authController.RequestPasswordReset, throttle)
	auth.POST("/reset-password", authController.ResetPassword)

	authProtected := auth.Group("")
	authProtected.Use(authMiddleware.RequireAuth)
	authProtected.POST("/logout", authController.Logout)
	authProtected.POST("/logout-all", authController.LogoutAll)

	httpAddr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
	logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
	if err := e.Start(httpAddr); err != nil {
		logrus.WithError(err).Fatal("Failed to start HTTP server")
	}
}

func configureLogging(cfg *config.Config) {
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
