// Package server wires the gateway together and serves its HTTP API.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/stepflow/gateway/pkg/audit"
	"github.com/stepflow/gateway/pkg/auth"
	"github.com/stepflow/gateway/pkg/auth/oidcauth"
	"github.com/stepflow/gateway/pkg/catalog"
	"github.com/stepflow/gateway/pkg/core"
	"github.com/stepflow/gateway/pkg/oauth"
	"github.com/stepflow/gateway/pkg/proxy"
	"github.com/stepflow/gateway/pkg/secrets"
	"github.com/stepflow/gateway/pkg/storage"
	"github.com/stepflow/gateway/pkg/storage/auditlogs"
	"github.com/stepflow/gateway/pkg/storage/authconfigs"
	"github.com/stepflow/gateway/pkg/storage/authorizations"
	"github.com/stepflow/gateway/pkg/storage/authstates"
)

// RunConfig loads config from a path and starts the server with signal handling.
func RunConfig(configPath string) error {
	logger := core.NewLogger("server")
	config, err := core.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return Run(ctx, config, logger)
}

// Run starts the server until the context is canceled.
func Run(ctx context.Context, config core.Config, logger *log.Logger) error {
	if config.Storage.Driver == "" || config.Storage.DSN == "" {
		return fmt.Errorf("storage.driver and storage.dsn are required")
	}

	var cipher *secrets.Cipher
	if config.Secrets.MasterKey != "" {
		created, err := secrets.NewCipher(config.Secrets.MasterKey, config.Secrets.KeySalt)
		if err != nil {
			return fmt.Errorf("secrets cipher: %w", err)
		}
		cipher = created
		logger.Printf("secrets encryption enabled")
	} else {
		logger.Printf("secrets encryption disabled (missing secrets.master_key)")
	}

	pool := storage.PoolConfig{
		MaxOpenConns:      config.Storage.MaxOpenConns,
		MaxIdleConns:      config.Storage.MaxIdleConns,
		ConnMaxLifetimeMS: config.Storage.ConnMaxLifetimeMS,
		ConnMaxIdleTimeMS: config.Storage.ConnMaxIdleTimeMS,
	}

	configStore, err := authconfigs.Open(authconfigs.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Dialect:     config.Storage.Dialect,
		AutoMigrate: config.Storage.AutoMigrate,
		Pool:        pool,
		Cipher:      cipher,
	})
	if err != nil {
		return fmt.Errorf("auth configs storage: %w", err)
	}
	defer configStore.Close()
	logger.Printf("auth configs enabled driver=%s dialect=%s table=gateway_auth_configs", config.Storage.Driver, config.Storage.Dialect)

	stateStore, err := authstates.Open(authstates.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Dialect:     config.Storage.Dialect,
		AutoMigrate: config.Storage.AutoMigrate,
		Pool:        pool,
		Cipher:      cipher,
	})
	if err != nil {
		return fmt.Errorf("auth states storage: %w", err)
	}
	defer stateStore.Close()
	logger.Printf("auth states enabled driver=%s dialect=%s table=gateway_oauth2_auth_states", config.Storage.Driver, config.Storage.Dialect)

	grantStore, err := authorizations.Open(authorizations.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Dialect:     config.Storage.Dialect,
		AutoMigrate: config.Storage.AutoMigrate,
		Pool:        pool,
		Cipher:      cipher,
	})
	if err != nil {
		return fmt.Errorf("authorizations storage: %w", err)
	}
	defer grantStore.Close()
	logger.Printf("authorizations enabled driver=%s dialect=%s table=gateway_user_api_authorizations", config.Storage.Driver, config.Storage.Dialect)

	auditStore, err := auditlogs.Open(auditlogs.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Dialect:     config.Storage.Dialect,
		AutoMigrate: config.Storage.AutoMigrate,
		Pool:        pool,
		Cipher:      cipher,
	})
	if err != nil {
		return fmt.Errorf("audit storage: %w", err)
	}
	defer auditStore.Close()
	logger.Printf("audit logs enabled driver=%s dialect=%s prefix=gateway", config.Storage.Driver, config.Storage.Dialect)

	directory, err := catalog.Open(catalog.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Dialect:     config.Storage.Dialect,
		AutoMigrate: config.Storage.AutoMigrate,
		Pool:        pool,
	}, configStore)
	if err != nil {
		return fmt.Errorf("endpoint directory: %w", err)
	}
	defer directory.Close()
	logger.Printf("endpoint directory enabled driver=%s dialect=%s table=gateway_endpoints", config.Storage.Driver, config.Storage.Dialect)

	bus := audit.NewBus(config.Audit.BufferSize, core.NewLogger("audit"))
	defer bus.Close()
	writer := audit.NewWriter(bus, auditStore)
	writer.Logger = core.NewLogger("audit")
	go func() {
		if err := writer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("audit writer stopped err=%v", err)
		}
	}()

	sweeper := &audit.Sweeper{
		Store:     auditStore,
		Retention: time.Duration(config.Audit.RetentionDays) * 24 * time.Hour,
		Interval:  time.Duration(config.Audit.SweepIntervalMS) * time.Millisecond,
		Logger:    core.NewLogger("audit"),
	}
	go sweeper.Run(ctx)

	manager := oauth.NewManager(stateStore, grantStore, configStore, bus)
	manager.Logger = core.NewLogger("oauth2")
	manager.StateTTL = time.Duration(config.OAuth2.StateTTLMinutes) * time.Minute
	manager.Endpoint = config.Endpoint
	manager.DefaultScope = config.OAuth2.DefaultScope
	go manager.SweepExpiredStates(ctx, time.Duration(config.OAuth2.SweepIntervalMS)*time.Millisecond)

	registry := auth.DefaultRegistry()
	registry.Register(oauth.NewProvider(manager))

	cache := auth.NewCache(registry, configStore, bus)
	cache.Logger = core.NewLogger("authcache")
	cache.GracePeriod = time.Duration(config.Cache.GracePeriodMS) * time.Millisecond
	cache.DefaultTTL = time.Duration(config.Cache.DefaultTTLMS) * time.Millisecond

	executor := proxy.NewExecutor(directory, cache, bus)
	executor.Logger = core.NewLogger("proxy")

	var verifier *oidcauth.Verifier
	if config.Auth.Issuer != "" {
		created, err := oidcauth.NewVerifier(ctx, config.Auth)
		if err != nil {
			return fmt.Errorf("inbound auth verifier: %w", err)
		}
		verifier = created
		logger.Printf("inbound auth enabled issuer=%s", config.Auth.Issuer)
	} else {
		logger.Printf("inbound auth disabled (missing auth.issuer)")
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", healthHandler())

	oauthHandler := &OAuth2Handler{Manager: manager, Logger: logger}
	// The callback is reached by the user's browser on provider redirect;
	// the single-use state authenticates it.
	mux.HandleFunc("/oauth2/callback", oauthHandler.Callback)

	protected := []Middleware{authMiddleware(verifier, logger)}
	mux.Handle("/auth/configs", applyMiddlewares(&ConfigsHandler{Store: configStore, Cache: cache, Logger: logger}, protected))
	mux.Handle("/endpoints", applyMiddlewares(&EndpointsHandler{Registry: directory, Directory: directory, Logger: logger}, protected))
	mux.Handle("/oauth2/authorize", applyMiddlewares(http.HandlerFunc(oauthHandler.Authorize), protected))
	mux.Handle("/api/call", applyMiddlewares(&CallHandler{Executor: executor, Logger: logger}, protected))
	mux.Handle("/statistics", applyMiddlewares(&StatsHandler{Store: auditStore, Logger: logger}, protected))
	mux.Handle("/logs/recent", applyMiddlewares(&LogsHandler{Store: auditStore, Logger: logger}, protected))

	handler := applyMiddlewares(mux, []Middleware{
		requestLogMiddleware(core.NewLogger("http")),
		maxBodyMiddleware(config.Server.MaxBodyBytes),
	})

	corsHandler := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowOriginFunc: func(_ string) bool { return true },
		AllowedHeaders:  []string{"*"},
		MaxAge:          int(2 * time.Hour / time.Second),
	})
	root := h2c.NewHandler(corsHandler.Handler(handler), &http2.Server{})

	addr := ":" + strconv.Itoa(config.Server.Port)
	if config.Endpoint != "" {
		logger.Printf("server endpoint=%s", config.Endpoint)
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	}
}
