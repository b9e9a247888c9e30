package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/audit"
	"github.com/chimerakang/jobboard-iam/authz"
	"github.com/chimerakang/jobboard-iam/credential"
	"github.com/chimerakang/jobboard-iam/guard"
	"github.com/chimerakang/jobboard-iam/metrics"
	"github.com/chimerakang/jobboard-iam/middleware/ginmw"
	"github.com/chimerakang/jobboard-iam/oauth2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the guarded HTTP front end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				return runServer(ctx, app)
			})
		},
	}
}

// server is the backend-for-frontend. Each request carries its own credential
// in a cookie, so nothing here touches the CLI's stored credential or session.
type server struct {
	auth       iam.Authenticator
	identities iam.IdentityService
	guard      *guard.Guard
	flow       *oauth2.Flow
	metrics    *metrics.Metrics
	audit      *audit.Logger
	logger     *slog.Logger
	cookieName string
	secure     bool
	apiPrefix  string
}

func newServer(app *App) (*server, error) {
	cfg := app.Config

	// requests are independent: no shared credential slot, no shared identity
	g := guard.New(credential.NewMemory(), app.Client.Validator(), guard.IdentitySourceFunc(app.API.WhoAmI),
		guard.WithLoginPath(app.Client.Config().LoginPath),
		guard.WithForbiddenPath(app.Client.Config().ForbiddenPath),
		guard.WithRedirectParam(app.Client.Config().RedirectParam),
		guard.WithClearOnReject(false),
		guard.WithLogger(app.Logger),
		guard.WithMetrics(app.Metrics),
		guard.WithAudit(app.Audit),
	)

	flowOpts := []oauth2.Option{oauth2.WithStateTTL(cfg.OAuth2.StateTTL)}
	if cfg.OAuth2.StateStore == "redis" {
		rc := cfg.Credential.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Username: rc.Username,
			Password: rc.Password,
			DB:       rc.DB,
		})
		app.closers = append(app.closers, client.Close)
		flowOpts = append(flowOpts, oauth2.WithStateStore(oauth2.NewRedisStates(client, "")))
	}
	flow, err := oauth2.New(cfg.OAuth2.Providers, flowOpts...)
	if err != nil {
		return nil, err
	}

	return &server{
		auth:       app.API,
		identities: app.API,
		guard:      g,
		flow:       flow,
		metrics:    app.Metrics,
		audit:      app.Audit,
		logger:     app.Logger,
		cookieName: cfg.Server.CookieName,
		secure:     cfg.Server.SecureCookie,
		apiPrefix:  cfg.Server.APIPrefix,
	}, nil
}

func runServer(ctx context.Context, app *App) error {
	s, err := newServer(app)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              app.Config.Server.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info("starting HTTP server", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		app.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	authGroup := r.Group("/auth")
	authGroup.POST("/login", s.login)
	authGroup.POST("/register", s.register)
	authGroup.POST("/verify", s.verify)
	authGroup.POST("/logout", s.logout)
	authGroup.GET("/social/:provider", s.socialStart)
	authGroup.GET("/social/:provider/callback", s.socialCallback)

	guarded := r.Group("/", ginmw.Guard(s.guard,
		ginmw.WithCookieName(s.cookieName),
		ginmw.WithAPIPrefix(s.apiPrefix),
	))
	guarded.GET("/api/me", s.me)
	guarded.GET("/api/menu", s.menu)
	guarded.GET("/admin", s.page)
	guarded.GET("/admin/*page", s.page)
	guarded.GET("/profile", s.page)
	guarded.GET("/forbidden", s.page)
	return r
}

func (s *server) login(c *gin.Context) {
	var req iam.LoginRequest
	if !s.bind(c, &req) {
		return
	}
	s.finish(c, audit.ActionLogin, func(ctx context.Context) (*iam.AuthResult, error) {
		return s.auth.Login(ctx, req)
	})
}

func (s *server) register(c *gin.Context) {
	var req iam.RegisterRequest
	if !s.bind(c, &req) {
		return
	}
	s.finish(c, audit.ActionRegister, func(ctx context.Context) (*iam.AuthResult, error) {
		return s.auth.Register(ctx, req)
	})
}

func (s *server) verify(c *gin.Context) {
	var req iam.VerifyRequest
	if !s.bind(c, &req) {
		return
	}
	s.finish(c, audit.ActionVerify, func(ctx context.Context) (*iam.AuthResult, error) {
		return s.auth.VerifyCode(ctx, req)
	})
}

func (s *server) socialStart(c *gin.Context) {
	target, _, err := s.flow.AuthCodeURL(c.Request.Context(), c.Param("provider"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, oauth2.ErrUnknownProvider) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (s *server) socialCallback(c *gin.Context) {
	req, err := s.flow.Callback(c.Request.Context(), c.Param("provider"), c.Query("state"), c.Query("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.finish(c, audit.ActionSocial, func(ctx context.Context) (*iam.AuthResult, error) {
		return s.auth.SocialCallback(ctx, req)
	})
}

func (s *server) logout(c *gin.Context) {
	token := ginmw.Token(c, s.cookieName)
	if token != "" {
		if err := s.auth.Logout(c.Request.Context(), token); err != nil {
			s.logger.WarnContext(c.Request.Context(), "backend logout failed", "error", err)
		}
	}
	ginmw.ClearCookie(c, s.cookieName)
	s.metrics.RecordLogout()
	s.audit.LogContext(c.Request.Context(), audit.Event{Action: audit.ActionLogout, Result: audit.ResultSuccess})
	c.Status(http.StatusNoContent)
}

func (s *server) me(c *gin.Context) {
	identity := ginmw.GetIdentity(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}
	c.JSON(http.StatusOK, identity)
}

func (s *server) menu(c *gin.Context) {
	var identity *iam.Identity
	if token := ginmw.GetToken(c); token != "" {
		var err error
		if identity, err = s.identities.WhoAmI(c.Request.Context(), token); err != nil {
			s.logger.WarnContext(c.Request.Context(), "menu identity lookup failed", "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"capabilities": authz.For(identity),
		"items":        authz.Visible(s.guard.Policy(), identity, authz.AdminMenu()),
	})
}

func (s *server) page(c *gin.Context) {
	d, _ := ginmw.GetDecision(c)
	c.JSON(http.StatusOK, gin.H{
		"path":     c.Request.URL.Path,
		"state":    d.State.String(),
		"identity": d.Identity,
	})
}

func (s *server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBind(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	if err := iam.Validate(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// finish runs a login-style call and, when it yields a credential, hands it to
// the browser as a cookie.
func (s *server) finish(c *gin.Context, action string, call func(context.Context) (*iam.AuthResult, error)) {
	ctx := c.Request.Context()
	res, err := call(ctx)

	event := audit.Event{Action: action, Result: audit.ResultSuccess}
	defer func() {
		s.metrics.RecordLogin(action, event.Result)
		s.audit.LogContext(ctx, event)
	}()

	switch {
	case err != nil:
		event.Result, event.Error = audit.ResultFailure, err.Error()
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	case res == nil || res.Token == "":
		event.Result = "pending"
		c.JSON(http.StatusAccepted, gin.H{"status": "verification_pending"})
		return
	}

	ginmw.SetCookie(c, s.cookieName, res.Token, s.secure)
	if res.Identity != nil {
		event.UserID = res.Identity.ID
	}
	if action == audit.ActionSocial {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": res.Identity})
}

func statusFor(err error) int {
	var apiErr *iam.APIError
	switch {
	case errors.Is(err, iam.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		return apiErr.StatusCode
	default:
		return http.StatusBadGateway
	}
}
