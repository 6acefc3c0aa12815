package main

import (
	"context"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/andina-labs/almacen/pkg/api"
	"github.com/andina-labs/almacen/pkg/axpert"
	"github.com/andina-labs/almacen/pkg/config"
	"github.com/andina-labs/almacen/pkg/identity"
	"github.com/andina-labs/almacen/pkg/observability"
	"github.com/andina-labs/almacen/pkg/proxy"
	"github.com/andina-labs/almacen/pkg/session"
	"github.com/andina-labs/almacen/pkg/sso"
)

func main() {
	startupLog := logrus.New()
	startupLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx := context.Background()

	telemetry, err := observability.Setup(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	// Pending-authorization store: Redis when configured, otherwise a
	// process-local store good enough for a single instance.
	var stateStore sso.StateStore
	var redisStore *sso.RedisStateStore
	if cfg.Redis.URL != "" {
		redisStore, err = sso.NewRedisStateStore(ctx, cfg.Redis, metrics)
		if err != nil {
			startupLog.WithError(err).Fatal("Failed to connect to Redis")
		}
		stateStore = redisStore
		startupLog.Info("Pending-authorization store: redis")
	} else {
		stateStore = sso.NewMemoryStateStore(metrics)
		startupLog.Info("Pending-authorization store: in-memory")
	}

	policy := proxy.DefaultPolicy()
	if cfg.Proxy.PolicyFile != "" {
		policy, err = proxy.LoadPolicyFile(cfg.Proxy.PolicyFile)
		if err != nil {
			startupLog.WithError(err).Fatal("Failed to load proxy policy file")
		}
		startupLog.WithField("file", cfg.Proxy.PolicyFile).Info("Proxy policy loaded")
	}

	sessions := session.NewManager(cfg.IsProduction())
	identityClient := identity.NewClient(cfg.Supabase, logger, metrics)
	providerClient := axpert.NewClient(cfg.Axpert, logger, metrics)
	flow := sso.NewFlow(cfg.Axpert, identityClient, providerClient, sessions, stateStore, logger, metrics)
	gateway := proxy.NewGateway(cfg.Supabase, policy, sessions, logger, metrics)

	server := api.NewServer(identityClient, providerClient, sessions, flow, gateway, logger, metrics)

	handler := server.Handler(sessions)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "almacen-gateway")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthChecker := observability.NewHealthChecker()
	healthChecker.Register("supabase", identityClient.Ping)
	if redisStore != nil {
		healthChecker.Register("redis", redisStore.Ping)
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, healthChecker)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return stateStore.Close() })
	shutdown.RegisterShutdownFunc(telemetry.Shutdown)

	startupLog.WithFields(logrus.Fields{
		"addr":        apiServer.Addr,
		"health_addr": healthServer.Addr,
		"environment": cfg.Environment,
	}).Info("Starting almacen gateway")

	var g errgroup.Group
	g.Go(func() error {
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	if err := g.Wait(); err != nil {
		startupLog.WithError(err).Fatal("Gateway exited with error")
	}
}
