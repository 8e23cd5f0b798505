package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/chinmina/directory-bridge/internal/audit"
	"github.com/chinmina/directory-bridge/internal/cache"
	"github.com/chinmina/directory-bridge/internal/config"
	"github.com/chinmina/directory-bridge/internal/identity"
	"github.com/chinmina/directory-bridge/internal/observe"
	"github.com/chinmina/directory-bridge/internal/server"
	"github.com/chinmina/directory-bridge/internal/uaa"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

type providerServices struct {
	lookup     IdentityLookup
	info       ProviderInfo
	httpClient *http.Client
}

func configureProvider(cfg config.Config, transport *http.Transport) (providerServices, error) {
	httpClient, err := uaa.NewHTTPClient(cfg.UAA, transport, func(rt http.RoundTripper) http.RoundTripper {
		return observe.HTTPTransport(rt, cfg.Observe)
	})
	if err != nil {
		return providerServices{}, fmt.Errorf("identity provider transport configuration failed: %w", err)
	}

	tokens, err := cache.NewFromConfig(cfg.Cache)
	if err != nil {
		return providerServices{}, fmt.Errorf("token cache configuration failed: %w", err)
	}

	directory, err := uaa.NewDirectory(cfg.UAA.Target, httpClient)
	if err != nil {
		return providerServices{}, fmt.Errorf("identity provider directory configuration failed: %w", err)
	}

	issuer := uaa.NewIssuer(cfg.UAA.ResolvedTokenURL(), httpClient)

	client := identity.New(identity.Credentials{
		ClientID:     cfg.UAA.ClientID,
		ClientSecret: cfg.UAA.ClientSecret,
	}, tokens, issuer, directory)

	return providerServices{
		lookup:     auditLookup(client),
		info:       directory,
		httpClient: httpClient,
	}, nil
}

func configureServerRoutes(cfg config.ServerConfig, provider providerServices) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	mux := observe.NewMux(http.NewServeMux())

	// The API shape has no request bodies, so the limit is small and not
	// configurable.
	requestLimitBytes := int64(4 << 10) // 4 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	authorizedRouteMiddleware := alice.New(requestLimiter, audit.Middleware(), apiTokenAuthorizer(cfg.APIToken))
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("GET /users", authorizedRouteMiddleware.Then(handleGetUsers(provider.lookup)))
	mux.Handle("GET /users/usernames", authorizedRouteMiddleware.Then(handleGetUsernames(provider.lookup)))
	mux.Handle("GET /users/{username}/id", authorizedRouteMiddleware.Then(handleGetUserID(provider.lookup)))
	mux.Handle("GET /users/{username}/origins", authorizedRouteMiddleware.Then(handleGetOrigins(provider.lookup)))
	mux.Handle("GET /clients", authorizedRouteMiddleware.Then(handleGetClients(provider.lookup)))

	mux.Handle("GET /healthcheck/provider", standardRouteMiddleware.Then(handleProviderHealth(provider.info)))

	// healthchecks are not included in telemetry or authorization
	mux.HandleUntraced("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	transport := configureHTTPTransport(cfg.Server)
	http.DefaultTransport = observe.HTTPTransport(transport, cfg.Observe)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	provider, err := configureProvider(cfg, transport)
	if err != nil {
		return err
	}
	hooks.AddFunc("identity-provider-connections", provider.httpClient.CloseIdleConnections)

	hooks.Add("telemetry", shutdownTelemetry)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           configureServerRoutes(cfg.Server, provider),
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second

	err = server.Serve(ctx, srv, shutdownTimeout, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
