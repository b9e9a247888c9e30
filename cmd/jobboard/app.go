package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/audit"
	"github.com/chimerakang/jobboard-iam/credential"
	"github.com/chimerakang/jobboard-iam/guard"
	"github.com/chimerakang/jobboard-iam/jwks"
	"github.com/chimerakang/jobboard-iam/metrics"
	"github.com/chimerakang/jobboard-iam/restapi"
	"github.com/chimerakang/jobboard-iam/session"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// App holds the wired services for one command invocation.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Client  *iam.Client
	API     *restapi.Client
	Session *session.Store
	Guard   *guard.Guard
	Metrics *metrics.Metrics
	Audit   *audit.Logger

	closers []func() error
}

func newApp(cfg *Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	creds, err := app.credentialStore()
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.API = restapi.New(cfg.Endpoint,
		restapi.WithTimeout(cfg.RequestTimeout),
		restapi.WithLogger(logger),
	)

	var validator iam.TokenValidator = app.API
	if cfg.Validation.Mode == "jwks" {
		opts := []jwks.Option{}
		if cfg.Validation.Issuer != "" {
			opts = append(opts, jwks.WithIssuer(cfg.Validation.Issuer))
		}
		if cfg.Validation.Audience != "" {
			opts = append(opts, jwks.WithAudience(cfg.Validation.Audience))
		}
		validator = jwks.NewValidator(cfg.Validation.JWKSURL, opts...)
	}

	app.Client, err = iam.NewClient(iam.Config{
		Endpoint:       cfg.Endpoint,
		LoginPath:      cfg.LoginPath,
		ForbiddenPath:  cfg.ForbiddenPath,
		RedirectParam:  cfg.RedirectParam,
		RequestTimeout: cfg.RequestTimeout,
	},
		iam.WithLogger(logger),
		iam.WithCredentialStore(creds),
		iam.WithIdentityService(app.API),
		iam.WithTokenValidator(validator),
		iam.WithAuthenticator(app.API),
	)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	app.closers = append(app.closers, app.Client.Close)

	app.Metrics = metrics.New(cfg.Server.Metrics)
	if cfg.Audit.Enabled {
		var sink io.Closer
		app.Audit, sink, err = newAuditLogger(cfg.Audit, logger)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		if sink != nil {
			app.closers = append(app.closers, sink.Close)
		}
		app.closers = append(app.closers, app.Audit.Close)
	}

	app.Session = session.NewFromClient(app.Client,
		session.WithMetrics(app.Metrics),
		session.WithAudit(app.Audit),
	)
	guardOpts := []guard.Option{
		guard.WithMetrics(app.Metrics),
		guard.WithAudit(app.Audit),
		guard.WithRejectHook(func(context.Context) { app.Session.SetIdentity(nil) }),
	}
	if cfg.Validation.ClaimRoles {
		guardOpts = append(guardOpts, guard.WithClaimRoles())
	}
	app.Guard = guard.NewFromClient(app.Client, app.Session, guardOpts...)
	return app, nil
}

func (a *App) credentialStore() (iam.CredentialStore, error) {
	cc := a.Config.Credential
	cfg := credential.Config{
		Driver: cc.Driver,
		Key:    cc.Key,
		Logger: a.Logger,
		Redis: &credential.RedisConfig{
			Addr:     cc.Redis.Addr,
			Username: cc.Redis.Username,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
			Prefix:   cc.Redis.Prefix,
		},
	}
	if cc.File != "" {
		cfg.File = &credential.FileConfig{Path: cc.File}
	}

	var deps credential.Dependencies
	if cc.Driver == credential.DriverSQLite {
		db, err := gorm.Open(sqlite.Open(cc.SQLite), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		deps.SQLiteDB = db
	}

	store, err := credential.New(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return store, nil
}

// newAuditLogger writes to cfg.File when set, otherwise to the process log.
// The returned closer, if any, must outlive the audit logger.
func newAuditLogger(cfg AuditConfig, logger *slog.Logger) (*audit.Logger, io.Closer, error) {
	if cfg.File == "" {
		return audit.New(0, audit.WithSlogHandler(logger)), nil, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return audit.New(0, audit.WithWriterHandler(f)), f, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
