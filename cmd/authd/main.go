package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kuraykaraaslan/authcore"
	"github.com/kuraykaraaslan/authcore/cache"
	"github.com/kuraykaraaslan/authcore/httpapi"
	"github.com/kuraykaraaslan/authcore/notify"
	"github.com/kuraykaraaslan/authcore/otp"
	"github.com/kuraykaraaslan/authcore/session"
	"github.com/kuraykaraaslan/authcore/sso"
	"github.com/kuraykaraaslan/authcore/token"
	"github.com/kuraykaraaslan/authcore/user"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env file: %v", err)
	}

	cfg, err := authcore.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
}

func run(cfg *authcore.Config, logger *zap.Logger) error {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return err
	}

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  []byte(cfg.AccessTokenSecret),
		RefreshSecret: []byte(cfg.RefreshTokenSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
	})
	if err != nil {
		return err
	}

	users := user.NewSQLStore(db)
	sessionCache := cache.New(redisClient)
	sessions := session.NewManager(
		session.NewSQLStore(db), sessionCache, codec,
		cfg.SessionLifetime, cfg.SessionCacheTTL,
		logger.Named("session"))

	dispatcher := notify.NewDispatcher(notify.Config{}, nil, nil, logger.Named("notify"))
	defer dispatcher.Close()

	otpService := otp.NewService(
		otp.NewStore(redisClient), dispatcher,
		otp.Config{
			Digits:     cfg.OTPLength,
			CodeTTL:    cfg.OTPExpiry,
			RateWindow: cfg.OTPRateWindow,
			TOTPIssuer: cfg.TOTPIssuer,
		},
		logger.Named("otp"))

	var federation *sso.Federation
	if len(cfg.SSOAllowedProviders) > 0 {
		registry, err := sso.NewRegistry(cfg.SSOAllowedProviders, cfg.SSOCredentials, cfg.SSORedirectBase)
		if err != nil {
			return err
		}
		federation = sso.NewFederation(registry, users, !cfg.RegistrationDisabled, logger.Named("sso"))
	}

	core := authcore.New(users, sessions, otpService, federation, logger.Named("core"))

	server := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpapi.NewServer(core, httpapi.Config{
			AccessTokenTTL:  cfg.AccessTokenTTL,
			RefreshTokenTTL: cfg.RefreshTokenTTL,
			TOTPIssuer:      cfg.TOTPIssuer,
			SecureCookies:   !cfg.LogDev,
			PostLoginURL:    cfg.PostLoginURL,
		}, logger.Named("http")).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}
