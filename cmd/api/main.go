package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"porky.com/knmt/internal/audit"
	"porky.com/knmt/internal/config"
	"porky.com/knmt/internal/entitlement"
	"porky.com/knmt/internal/httpapi"
	"porky.com/knmt/internal/inflight"
	"porky.com/knmt/internal/obs"
	"porky.com/knmt/internal/sap"
	"porky.com/knmt/internal/session"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// inflightTTL bounds how long a crashed writer can block a retry.
const inflightTTL = 2 * time.Minute

func main() {
	configFile := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		obs.Logger().Fatal("load config", zap.Error(err))
	}
	logger := obs.NewLogger(cfg.Logging.Level, cfg.Logging.Format).With(
		zap.String("service", cfg.App.Name),
		zap.String("env", cfg.App.Environment),
	)
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.SetBuildInfo(version, commit)

	// Database is optional; without it entitlements and audit stay in process.
	var db *sql.DB
	if cfg.Database.DSN != "" {
		db, err = sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	var rdb redis.UniversalClient
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	bridge, err := newBridge(cfg, rdb, logger)
	if err != nil {
		logger.Fatal("session bridge", zap.Error(err))
	}

	backend, err := sap.New(sap.Config{
		BaseURL:          cfg.Backend.BaseURL,
		ServiceName:      cfg.Backend.ServiceName,
		EntitySet:        cfg.Backend.EntitySet,
		AppID:            cfg.Backend.AppID,
		APIKey:           cfg.Backend.APIKey,
		AuthToken:        cfg.Backend.AuthToken,
		BasicUser:        cfg.Backend.BasicUser,
		BasicPassword:    cfg.Backend.BasicPassword,
		Timeout:          cfg.Backend.Timeout,
		MaxResponseBytes: cfg.Backend.MaxResponseBytes,
	}, sap.WithLogger(logger.Named("sap")))
	if err != nil {
		logger.Fatal("backend client", zap.Error(err))
	}

	var ents entitlement.Store
	if db != nil {
		ents = entitlement.NewPGStore(db)
		restore := audit.SetSink(audit.NewPGSink(db))
		defer restore()
	} else {
		logger.Warn("no database configured; entitlement scoping disabled")
	}

	var guard inflight.Guard = inflight.NewMemory()
	if rdb != nil {
		guard = inflight.NewRedis(rdb, inflightTTL)
	}

	api := httpapi.New(httpapi.Options{
		Name:              cfg.App.Name,
		Version:           version,
		Ready:             httpapi.ReadyProbe{DB: db, Redis: rdb},
		Bridge:            bridge,
		Backend:           backend,
		Entitlements:      ents,
		Guard:             guard,
		PublicURL:         cfg.App.PublicURL,
		RateBurst:         cfg.HTTP.RateBurst,
		RatePerSecond:     cfg.HTTP.RatePerSecond,
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		AllowLocalOrigins: cfg.App.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Backend calls can take most of the client timeout.
		WriteTimeout: cfg.Backend.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting", zap.String("version", version), zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	logger.Info("stopped")
}

func newBridge(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) (*session.Bridge, error) {
	a := cfg.Auth
	opts := []session.Option{session.WithLogger(logger.Named("session"))}
	if a.PortalSecret != "" {
		v, err := session.NewHMACVerifier(a.PortalSecret, "", nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithTokenVerifier(v))
	}
	if rdb != nil {
		opts = append(opts, session.WithRevocations(session.NewRedisRevocations(rdb, nil)))
	} else {
		opts = append(opts, session.WithRevocations(session.NewMemoryRevocations(nil)))
	}
	secret := []byte(a.CookieSecret)
	if len(secret) == 0 {
		secret = make([]byte, config.MinCookieSecret)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		logger.Warn("cookie_secret_generated", zap.String("reason", "auth.cookie_secret unset; sessions end on restart"))
	}
	return session.New(session.Config{
		PortalURL:            a.PortalURL,
		CookieName:           a.CookieName,
		CookieSecret:         secret,
		LegacyCookieName:     a.LegacyCookieName,
		SessionTimeout:       a.SessionTimeout,
		LegacySessionTimeout: a.LegacySessionTimeout,
		RefreshAfter:         a.RefreshAfter,
		Branding: session.Branding{
			H1:            a.Branding.H1,
			H2:            a.Branding.H2,
			H3:            a.Branding.H3,
			AlternateAuth: a.Branding.AlternateAuth,
			ShowSignup:    a.Branding.ShowSignup,
			Branding:      a.Branding.Branding,
		},
	})
}
