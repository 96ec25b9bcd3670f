// Server runs the LangChef auth API over HTTP and the gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"golang.org/x/sync/errgroup"

	"github.com/deepskandpal/LangChef/internal/audit"
	cataloghandler "github.com/deepskandpal/LangChef/internal/catalog/handler"
	catalogservice "github.com/deepskandpal/LangChef/internal/catalog/service"
	"github.com/deepskandpal/LangChef/internal/config"
	"github.com/deepskandpal/LangChef/internal/db"
	devicerepo "github.com/deepskandpal/LangChef/internal/deviceauth/repository"
	healthhandler "github.com/deepskandpal/LangChef/internal/health/handler"
	identityhandler "github.com/deepskandpal/LangChef/internal/identity/handler"
	"github.com/deepskandpal/LangChef/internal/identity/service"
	"github.com/deepskandpal/LangChef/internal/idp/awssso"
	"github.com/deepskandpal/LangChef/internal/logging"
	"github.com/deepskandpal/LangChef/internal/policy/engine"
	"github.com/deepskandpal/LangChef/internal/security"
	"github.com/deepskandpal/LangChef/internal/server"
	"github.com/deepskandpal/LangChef/internal/server/middleware"
	"github.com/deepskandpal/LangChef/internal/telemetry"
	telemetryotel "github.com/deepskandpal/LangChef/internal/telemetry/otel"
	"github.com/deepskandpal/LangChef/internal/telemetry/producer"
	userrepo "github.com/deepskandpal/LangChef/internal/user/repository"
)

const (
	// maintenanceInterval is how often the device ledger is pruned and idle rate limiters dropped.
	maintenanceInterval = 5 * time.Minute
	shutdownTimeout     = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Settings{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
		}
	}()

	var logProvider otellog.LoggerProvider
	if providers.Exporting {
		logProvider = providers.LoggerProvider
	}
	logger := logging.New(os.Stdout, logging.Settings{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: cfg.ServiceName,
	}, logProvider)
	slog.SetDefault(logger)

	metrics, err := telemetry.NewAuthMetrics(providers.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	var (
		users  userrepo.Repository
		ledger devicerepo.Repository
		pinger healthhandler.Pinger
	)
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.OpenContext(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer sqlDB.Close()
		users = userrepo.NewPostgresRepository(sqlDB)
		ledger = devicerepo.NewPostgresRepository(sqlDB)
		pinger = sqlDB
	} else {
		logger.Warn("DATABASE_URL not set, using the in-memory store; users are lost on restart")
		users = userrepo.NewMemoryRepository()
		ledger = devicerepo.NewMemoryRepository()
	}

	tokens, err := security.NewTokenProviderFromConfig(security.SigningConfig{
		Secret:     cfg.JWTSecret,
		PrivateKey: cfg.JWTPrivateKey,
		PublicKey:  cfg.JWTPublicKey,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		TTL:        cfg.AccessTTL(),
	})
	if err != nil {
		return fmt.Errorf("token signing: %w", err)
	}

	awsCfg, err := awssso.LoadAWSConfig(ctx, cfg.Ambient())
	if err != nil {
		return fmt.Errorf("aws config: %w", err)
	}
	idpClient, err := awssso.New(awsCfg, cfg.SSO(), awssso.Options{Logger: logger, Observer: metrics})
	if err != nil {
		return err
	}

	var emitters []telemetry.EventEmitter
	if providers.Exporting {
		emitters = append(emitters, telemetryotel.NewEventEmitter(providers.LoggerProvider))
	}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kafkaProducer, err := producer.NewKafkaProducer(brokers, cfg.AuthEventsTopic)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer kafkaProducer.Close()
		emitters = append(emitters, kafkaProducer)
		logger.Info("auth events enabled", "topic", kafkaProducer.Topic())
	}
	auditLogger := audit.NewLogger(logger, middleware.ClientIPFrom, emitters...)

	opts := service.Options{Logger: logger, Audit: auditLogger, Metrics: metrics}
	profile := service.ProfilePolicy{
		EmailDomain:          cfg.ProfileEmailDomain,
		RequireProviderEmail: cfg.ProfileMode == config.ProfileModeRequire,
	}
	sessions := service.NewSessions(tokens, opts)
	flow := service.NewDeviceFlow(idpClient, users, ledger, sessions, profile, opts)
	direct := service.NewDirectLogin(cfg.Ambient(), idpClient, users, sessions, profile, opts)
	validator := service.NewSessionValidator(tokens, users, idpClient, opts)

	policySrc, err := engine.LoadPolicyFile(cfg.AccessPolicyFile)
	if err != nil {
		return err
	}
	policy, err := engine.NewOPAEvaluator(ctx, policySrc)
	if err != nil {
		return err
	}

	health := healthhandler.NewServer(pinger, policy, logger)
	limiter := middleware.NewRateLimiter(cfg.AuthRateLimitRPS, cfg.AuthRateLimitBurst)
	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(&server.RouterDeps{
			Auth: identityhandler.NewHandler(identityhandler.Deps{
				DeviceFlow:  flow,
				DirectLogin: direct,
				Sessions:    sessions,
				Credentials: validator,
				Logger:      logger,
			}),
			Catalog:       cataloghandler.NewHandler(catalogservice.NewCatalog(validator, logger)),
			Health:        health,
			Authenticator: middleware.NewAuthenticator(validator, logger),
			Policy:        policy,
			Credentials:   validator,
			RateLimiter:   limiter,
			CORSOrigins:   cfg.CORSOrigins(),
			Logger:        logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := server.NewGRPCServer(health, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc server listening", "addr", cfg.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		ticker := time.NewTicker(maintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := flow.Prune(gctx, cfg.LedgerRetention()); err != nil {
					logger.Warn("device ledger prune failed", "error", err)
				}
				if n := limiter.Sweep(); n > 0 {
					logger.Debug("rate limiter sweep", "removed", n)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(sctx)
	})

	err = g.Wait()
	if len(emitters) > 0 {
		// Let in-flight async emits finish before the producer and providers close.
		time.Sleep(telemetry.ShutdownDrainDuration)
	}
	logger.Info("server stopped")
	return err
}
