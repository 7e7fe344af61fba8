package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpapi "github.com/playerdash/dashboard/internal/auth/http"
	"github.com/playerdash/dashboard/internal/auth/mail"
	"github.com/playerdash/dashboard/internal/auth/obs"
	"github.com/playerdash/dashboard/internal/auth/push"
	"github.com/playerdash/dashboard/internal/auth/revocation"
	"github.com/playerdash/dashboard/internal/auth/service"
	"github.com/playerdash/dashboard/internal/auth/store"
	"github.com/playerdash/dashboard/internal/auth/store/drivers/sqlite"
	"github.com/playerdash/dashboard/pkg/jwtx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags "-X ...BuildVersion=".
var BuildVersion = "v0.1.0"

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db          store.Store
	redisClient *redis.Client
	revocations *revocation.Index
	mailBreaker *mail.Breaker
	hub         *push.Hub

	tokenService        *service.TokenService
	loginService        *service.LoginService
	totpService         *service.TOTPService
	inviteService       *service.InviteService
	resetService        *service.ResetService
	principalService    *service.PrincipalService
	signer              *service.Signer
	housekeepingService *service.HousekeepingService
	reminderService     *service.ReminderService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "auth-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	obs.Init()

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	app.initRevocations()

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()
	app.reminderService.Start()
	app.mailBreaker.Start(context.Background())

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.hub.Shutdown()
	app.housekeepingService.Stop()
	app.reminderService.Stop()
	app.mailBreaker.Stop()

	if err := app.redisClient.Close(); err != nil {
		app.logger.Error("error closing revocation index connection", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initRevocations() {
	app.redisClient = redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
	app.revocations = revocation.New(app.redisClient)
}

// initServices wires the business logic services.
func (app *Application) initServices() error {
	key := []byte(app.cfg.SigningKey)

	access, err := jwtx.NewCodec(key, jwtx.Issuer, jwtx.AccessAudience, app.cfg.AccessTTL, jwtx.DefaultLeeway)
	if err != nil {
		return fmt.Errorf("failed to build access token codec: %w", err)
	}
	handoff, err := jwtx.NewCodec(key, jwtx.Issuer, jwtx.HandoffAudience, jwtx.DefaultHandoffTTL, jwtx.DefaultLeeway)
	if err != nil {
		return fmt.Errorf("failed to build handoff token codec: %w", err)
	}

	app.signer, err = service.NewSigner(key, app.cfg.SignatureMaxAge)
	if err != nil {
		return fmt.Errorf("failed to build request signer: %w", err)
	}

	var inner mail.Mailer = mail.LogMailer{}
	if app.cfg.SMTPAddr != "" {
		inner = mail.NewSMTPMailer(mail.SMTPConfig{
			Addr:     app.cfg.SMTPAddr,
			Username: app.cfg.SMTPUsername,
			Password: app.cfg.SMTPPassword,
			From:     app.cfg.SMTPFrom,
		})
	} else {
		app.logger.Warn("SMTP_ADDR not set, mail goes to the log only")
	}
	app.mailBreaker = mail.NewBreaker(inner, mail.DefaultBreakerThreshold, mail.DefaultRetryInterval)

	app.tokenService = &service.TokenService{
		Store:       app.db,
		Revocations: app.revocations,
		Access:      access,
		Handoff:     handoff,
		RefreshTTL:  app.cfg.RefreshTTL,
		RotateAfter: app.cfg.RotateAfter,
	}

	app.totpService = &service.TOTPService{
		Store:      app.db,
		IssuerName: "Player Dashboard",
	}

	var captcha service.CaptchaVerifier = service.InsecureCaptcha{}
	if app.cfg.Env == "dev" {
		app.logger.Warn("captcha verification accepts any non-empty token in dev")
	}

	app.loginService = &service.LoginService{
		Store:            app.db,
		Tokens:           app.tokenService,
		TOTP:             app.totpService,
		Captcha:          captcha,
		CaptchaThreshold: service.DefaultCaptchaThreshold,
		LockoutThreshold: service.DefaultLockoutThreshold,
		LockoutDuration:  service.DefaultLockoutDuration,
	}

	app.inviteService = &service.InviteService{
		Store:          app.db,
		Mailer:         app.mailBreaker,
		BaseURL:        app.cfg.BaseURL,
		InviteTTL:      service.DefaultInviteTTL,
		ResendCooldown: service.DefaultResendCooldown,
		MemberCap:      service.DefaultMemberCap,
	}

	app.resetService = &service.ResetService{
		Store:       app.db,
		Revocations: app.revocations,
		Mailer:      app.mailBreaker,
		BaseURL:     app.cfg.BaseURL,
		ResetTTL:    service.DefaultResetTTL,
		Cooldown:    service.DefaultResetCooldown,
	}

	app.principalService = &service.PrincipalService{
		Store:       app.db,
		Revocations: app.revocations,
	}

	app.hub = push.NewHub(app.logger, time.Second)
	app.hub.OnSessionCount = obs.SetPushSessions

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.revocations,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.reminderService = service.NewReminderService(
		app.db,
		app.inviteService,
		app.logger,
		app.cfg.ReminderInterval,
	)

	return nil
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.revocations, app.logger)

	router.TokenService = app.tokenService
	router.LoginService = app.loginService
	router.TOTPService = app.totpService
	router.InviteService = app.inviteService
	router.ResetService = app.resetService
	router.PrincipalService = app.principalService
	router.Signer = app.signer
	router.Hub = app.hub
	router.AllowedOrigins = app.cfg.AllowedOrigins
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
