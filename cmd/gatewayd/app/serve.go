package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpgateway/gateway/pkg/aggregator"
	"github.com/mcpgateway/gateway/pkg/auth"
	"github.com/mcpgateway/gateway/pkg/auth/oauth"
	"github.com/mcpgateway/gateway/pkg/config"
	"github.com/mcpgateway/gateway/pkg/gateway"
	"github.com/mcpgateway/gateway/pkg/httpapi"
	"github.com/mcpgateway/gateway/pkg/logger"
	"github.com/mcpgateway/gateway/pkg/registry"
	"github.com/mcpgateway/gateway/pkg/router"
	"github.com/mcpgateway/gateway/pkg/session"
)

// shutdownGrace bounds how long the serve command waits for in-flight
// requests and backend shutdown to complete after a termination signal.
const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the MCP gateway",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	configPath := viper.GetString("config")
	if configPath == "" {
		return fmt.Errorf("no configuration file specified, use --config")
	}

	logger.Infof("loading configuration from %s", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	logger.Initialize(cfg.LogLevel)

	logger.Infof("configuration loaded: %d backend(s) declared", len(cfg.Backends))

	// --- OAuth2 ---
	oauthStorage := oauth.NewStorage()
	defer func() { _ = oauthStorage.Close() }()

	specs := make([]oauth.ClientSpec, len(cfg.Auth.OAuthClients))
	for i, c := range cfg.Auth.OAuthClients {
		specs[i] = oauth.ClientSpec{ID: c.ID, Secret: c.Secret, GrantTypes: c.GrantTypes, Scopes: c.Scopes}
	}
	if err := oauth.RegisterClients(oauthStorage, specs); err != nil {
		return fmt.Errorf("failed to register oauth clients: %w", err)
	}

	oauthServer, err := oauth.NewServer(oauth.Config{Issuer: cfg.Auth.Issuer}, oauthStorage)
	if err != nil {
		return fmt.Errorf("failed to construct oauth server: %w", err)
	}

	staticValidator := auth.NewStaticValidator(cfg.Auth.StaticTokens)
	authMW := auth.NewMiddleware(staticValidator, oauthServer, "mcp-gateway")

	// --- SSE session manager ---
	sessions := session.NewManager(cfg.Session.IdleTimeout)
	defer sessions.Stop()

	// --- Aggregator / Registry ---
	// The Registry satisfies aggregator.CapabilitySource, and the
	// Aggregator satisfies registry.CatalogListener; constructing the
	// Registry first and binding the Aggregator to it afterward breaks the
	// circular reference (§4.2/§4.3 wiring).
	reg := registry.New(sessions, nil)
	agg := aggregator.New(reg)
	reg.SetListener(agg)

	logger.Infof("starting %d backend(s)", len(cfg.Backends))
	reg.Load(ctx, cfg.Descriptors())
	defer reg.Shutdown(context.Background())

	rtr := router.New(agg, reg, cfg.Router.CallTimeout)
	gw := gateway.New(agg, rtr)

	deps := httpapi.Deps{
		Gateway:     gw,
		Sessions:    sessions,
		Registry:    reg,
		Aggregator:  agg,
		AuthMW:      authMW,
		OAuthServer: oauthServer,
		OAuthStore:  oauthStorage,
		RateLimit: httpapi.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
	}

	handler := httpapi.NewRouter(deps)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Infof("gateway listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("received signal %s, shutting down", sig)
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http server shutdown did not complete cleanly: %v", err)
	}
	return nil
}
