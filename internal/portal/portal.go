// ABOUTME: Composition root wiring store, API, instances, pipeline and HTTP front
// ABOUTME: Run boots the subsystems, serves on TCP or a tailnet and shuts down gracefully

package portal

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/bizhub/internal/api"
	"github.com/2389/bizhub/internal/auth"
	"github.com/2389/bizhub/internal/authz"
	"github.com/2389/bizhub/internal/boot"
	"github.com/2389/bizhub/internal/client"
	"github.com/2389/bizhub/internal/config"
	"github.com/2389/bizhub/internal/instance"
	"github.com/2389/bizhub/internal/layout"
	"github.com/2389/bizhub/internal/loader"
	"github.com/2389/bizhub/internal/metrics"
	"github.com/2389/bizhub/internal/pipeline"
	"github.com/2389/bizhub/internal/routes"
	"github.com/2389/bizhub/internal/session"
	"github.com/2389/bizhub/internal/store"
	"github.com/2389/bizhub/internal/views"
	"github.com/2389/bizhub/internal/web"
)

const shutdownTimeout = 5 * time.Second

// Portal owns every long-lived component of a running portal.
type Portal struct {
	config *config.Config
	logger *slog.Logger

	store     *store.SQLiteStore
	authz     *authz.Authorizer
	redis     *redis.Client
	metrics   *metrics.Metrics
	routes    *routes.Registry
	catalog   *views.Catalog
	loader    *loader.Loader
	boot      *boot.Coordinator
	instances *instance.Table

	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// initStore opens the SQLite store, honoring BIZHUB_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("BIZHUB_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// LoadRoutes returns the manifest's table when configured, else the built-in one.
func LoadRoutes(cfg *config.Config, logger *slog.Logger) (*routes.Registry, error) {
	if cfg.Routes.Manifest == "" {
		return routes.DefaultTable(routes.WithLogger(logger))
	}
	return routes.LoadManifest(cfg.Routes.Manifest, routes.WithLogger(logger))
}

// New builds the portal from configuration. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Portal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Portal{config: cfg, logger: logger.With("component", "portal")}

	reg, err := LoadRoutes(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("loading routes: %w", err)
	}
	p.routes = reg

	p.store, err = initStore(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		p.metrics = metrics.New()
	}

	var apiHandler http.Handler
	apiClient, err := p.apiClient(&apiHandler)
	if err != nil {
		_ = p.store.Close()
		return nil, err
	}

	repos, err := p.sessionRepositories()
	if err != nil {
		_ = p.store.Close()
		return nil, err
	}

	catalogOpts := []views.Option{views.WithDirectory(p.store), views.WithLogger(logger)}
	if cfg.Loader.ContentDir != "" {
		catalogOpts = append(catalogOpts, views.WithContentDir(cfg.Loader.ContentDir))
	}
	p.catalog = views.NewCatalog(catalogOpts...)
	p.loader = loader.New(p.catalog,
		loader.WithTimeout(cfg.Loader.LoadTimeout),
		loader.WithRecorder(p.metrics),
		loader.WithLogger(logger),
	)

	layouts, err := layout.NewSelector(logger)
	if err != nil {
		_ = p.store.Close()
		return nil, fmt.Errorf("parsing layouts: %w", err)
	}
	pipe := pipeline.New(reg, p.loader, layouts,
		pipeline.WithSuspenseTimeout(cfg.Loader.SuspenseTimeout),
		pipeline.WithRecorder(p.metrics),
		pipeline.WithLogger(logger),
	)

	p.instances = instance.New(instance.Config{
		Max:            cfg.Instances.Max,
		IdleTimeout:    cfg.Instances.IdleTimeout,
		RestoreTimeout: cfg.Session.RestoreTimeout,
		PermissionTTL:  cfg.Permissions.TTL,
		LookupTimeout:  cfg.Permissions.LookupTimeout,
	}, repos, apiClient, apiClient, p.metrics, logger)

	p.boot = boot.New(boot.WithLogger(logger))
	if err := p.registerSubsystems(); err != nil {
		_ = p.store.Close()
		return nil, err
	}

	front := web.New(web.Config{
		Pipeline:    pipe,
		Instances:   p.instances,
		Boot:        p.boot,
		API:         apiHandler,
		Metrics:     p.metrics,
		MetricsPath: cfg.Metrics.Path,
	}, logger)

	p.httpServer = &http.Server{
		Handler:           front.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return p, nil
}

// apiClient returns the client every instance talks through. With no remote
// base URL the built-in API is created, returned through apiHandler for
// mounting, and reached in process.
func (p *Portal) apiClient(apiHandler *http.Handler) (*client.Client, error) {
	if p.config.API.BaseURL != "" {
		p.logger.Info("using remote api", "base_url", p.config.API.BaseURL)
		return client.New(p.config.API.BaseURL), nil
	}

	verifier, err := auth.NewJWTVerifier([]byte(p.config.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}
	p.authz, err = authz.New(context.Background(), p.store, p.routes.Features(), p.logger)
	if err != nil {
		return nil, fmt.Errorf("loading feature grants: %w", err)
	}

	srv := api.New(p.store, auth.NewAuthenticator(p.store, verifier, p.config.Auth.TokenTTL), verifier, p.authz, p.logger)
	handler := srv.Routes()
	*apiHandler = handler
	return client.New("http://bizhub.internal", client.WithHTTPClient(&http.Client{
		Transport: handlerTransport{handler: handler},
		Timeout:   client.DefaultTimeout,
	})), nil
}

// sessionRepositories picks where each instance persists its token.
func (p *Portal) sessionRepositories() (instance.RepositoryFactory, error) {
	cfg := p.config.Session
	switch cfg.Backend {
	case config.SessionBackendMemory:
		return func(string) session.Repository { return session.NewMemoryRepository() }, nil
	case config.SessionBackendRedis:
		p.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ttl := p.config.Instances.IdleTimeout
		return func(id string) session.Repository {
			return session.NewRedisRepository(p.redis, cfg.RedisPrefix, id, ttl)
		}, nil
	case config.SessionBackendSQLite:
		return func(id string) session.Repository { return session.NewSlotRepository(p.store, id) }, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// registerSubsystems declares what must finish before the first navigation.
func (p *Portal) registerSubsystems() error {
	type subsystem struct {
		name string
		fn   boot.Subsystem
	}
	subs := []subsystem{
		{"metrics", func(context.Context) error { return p.metrics.Register() }},
		{"routes", p.checkRoutes},
		{"preload", func(ctx context.Context) error { return p.loader.Preload(ctx, p.routes.PreloadRefs()...) }},
	}
	if p.redis != nil {
		subs = append(subs, subsystem{"sessions", func(ctx context.Context) error { return p.redis.Ping(ctx).Err() }})
	}
	for _, s := range subs {
		if err := p.boot.Register(s.name, s.fn); err != nil {
			return fmt.Errorf("registering subsystem %s: %w", s.name, err)
		}
	}
	return nil
}

// checkRoutes fails the boot when a route names a module nobody provides.
func (p *Portal) checkRoutes(context.Context) error {
	var errs []error
	for _, e := range p.routes.Entries() {
		if _, ok := p.catalog.Factory(e.Module); !ok {
			errs = append(errs, fmt.Errorf("%w: %s -> %s", loader.ErrUnknownModule, e.Pattern, e.Module))
		}
	}
	return errors.Join(errs...)
}

// Run boots the portal and serves until ctx is canceled.
// Returns nil on graceful shutdown, or the first server error.
func (p *Portal) Run(ctx context.Context) error {
	ln, err := p.setupListener(ctx)
	if err != nil {
		return err
	}

	if err := p.boot.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("starting subsystems: %w", err)
	}
	if p.authz != nil {
		go p.reloadGrants(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		p.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		p.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		p.logger.Error("server error", "error", serverErr)
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	shutdownErr := p.Shutdown(sctx)
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// reloadGrants picks up role and grant changes made outside this process,
// such as `bizhub grant`, once per permission TTL.
func (p *Portal) reloadGrants(ctx context.Context) {
	ticker := time.NewTicker(p.config.Permissions.TTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.authz.Reload(ctx); err != nil {
				p.logger.Warn("failed to reload feature grants", "error", err)
			}
		}
	}
}

func (p *Portal) setupListener(ctx context.Context) (net.Listener, error) {
	if p.config.Tailscale.Enabled {
		if p.config.Server.HTTPAddr != "" {
			p.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", p.config.Server.HTTPAddr)
		}
		return p.setupTailscaleListener(ctx)
	}
	p.logger.Info("starting portal", "http_addr", p.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", p.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "bizhub", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

func (p *Portal) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := p.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	p.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	p.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := p.tsnetServer.Up(ctx)
	if err != nil {
		_ = p.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	p.logTailscaleStatus(tsCfg.Hostname, status)

	if !tsCfg.HTTPS {
		ln, err := p.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = p.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}

	p.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := p.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = p.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := p.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = p.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (p *Portal) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		p.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	p.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops serving and releases every resource.
func (p *Portal) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down portal")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", p.httpServer.Shutdown(ctx))
	if p.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", p.tsnetServer.Close())
	}
	p.instances.Close()
	if p.redis != nil {
		errs = appendCloseError(errs, "redis close", p.redis.Close())
	}
	errs = appendCloseError(errs, "store close", p.store.Close())
	return errors.Join(errs...)
}

// Handler exposes the HTTP front, for tests and embedding.
func (p *Portal) Handler() http.Handler {
	return p.httpServer.Handler
}

// Boot exposes the initialization coordinator.
func (p *Portal) Boot() *boot.Coordinator {
	return p.boot
}
