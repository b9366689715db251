// Package server wires the userdir server together: configuration, logging,
// tracing, the database, the identity store, the resilient upstream sync and
// the HTTP and gRPC transports. It also owns graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/userdir/internal/buildinfo"
	"github.com/dmitrijs2005/userdir/internal/logging"
	"github.com/dmitrijs2005/userdir/internal/server/auth"
	"github.com/dmitrijs2005/userdir/internal/server/config"
	"github.com/dmitrijs2005/userdir/internal/server/models"
	"github.com/dmitrijs2005/userdir/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/userdir/internal/server/resilience"
	"github.com/dmitrijs2005/userdir/internal/server/services"
	"github.com/dmitrijs2005/userdir/internal/server/snapshots"
	"github.com/dmitrijs2005/userdir/internal/server/upstream"
	"github.com/dmitrijs2005/userdir/internal/telemetry"

	gs "github.com/dmitrijs2005/userdir/internal/server/grpc"
	hs "github.com/dmitrijs2005/userdir/internal/server/http"
)

const serviceName = "userdir"

// Seams for tests.
var (
	openDatabase         = repomanager.OpenPostgres
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
	setupTelemetry       = telemetry.Setup
	newSnapshotStore     = func(ctx context.Context, o snapshots.Options) (snapshots.Store, error) {
		return snapshots.NewS3Store(ctx, o)
	}

	logOutput io.Writer = os.Stdout
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	httpServer *hs.Server
	grpcServer *gs.GRPCServer

	shutdownTelemetry func(context.Context) error
}

// NewApp validates c and builds every component. A configuration error
// wraps common.ErrorConfiguration and the server must not start.
func NewApp(ctx context.Context, c *config.Config) (app *App, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewJSONLogger(logOutput, c.LogLevel)

	shutdownTelemetry, err := setupTelemetry(ctx, serviceName, buildinfo.Version(), c.OtelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}

	db, err := openDatabase(ctx, c.DatabaseDSN)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("db init error: %w", err)
	}
	defer func() {
		if err != nil {
			_ = db.Close()
			_ = shutdownTelemetry(ctx)
		}
	}()

	rm := newRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	source, err := identitySource(ctx, c, db, rm, logger)
	if err != nil {
		return nil, err
	}
	verifier := auth.NewCredentialVerifier(source)

	codec, err := auth.NewTokenCodec([]byte(c.SecretKey), c.AccessTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	var grpcServer *gs.GRPCServer
	listeners := []resilience.BreakerOption{}
	if c.EndpointAddrGRPC != "" {
		grpcServer = gs.NewGRPCServer(c.EndpointAddrGRPC, logger)
		listeners = append(listeners, resilience.WithStateListener(grpcServer.BreakerListener()))
	} else {
		listeners = append(listeners, resilience.WithStateListener(func(from, to resilience.State) {
			logger.Info(context.Background(), "upstream circuit changed", "from", from.String(), "to", to.String())
		}))
	}

	breaker, err := resilience.NewBreaker(resilience.BreakerConfig{
		FailureRateThreshold: c.BreakerFailureRateThreshold,
		WindowSize:           c.BreakerWindowSize,
		MinimumCalls:         c.BreakerMinimumCalls,
		Cooldown:             c.BreakerCooldown,
		HalfOpenCalls:        c.BreakerHalfOpenCalls,
	}, listeners...)
	if err != nil {
		return nil, err
	}

	executor, err := resilience.NewExecutor(resilience.RetryPolicy{
		MaxAttempts: c.RetryMaxAttempts,
		Backoff:     c.RetryBackoff,
		MaxBackoff:  c.RetryBackoffMax,
		Kind:        c.RetryBackoffKind,
	}, breaker, logger.With("module", "resilience"))
	if err != nil {
		return nil, err
	}

	client, err := upstream.NewClient(c.UpstreamURL, c.UpstreamTimeout)
	if err != nil {
		return nil, err
	}

	var store snapshots.Store = snapshots.Noop{}
	if c.SnapshotBucket != "" {
		store, err = newSnapshotStore(ctx, snapshots.Options{
			Bucket:       c.SnapshotBucket,
			Region:       c.S3Region,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			BaseEndpoint: c.S3BaseEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot store init error: %w", err)
		}
	}

	syncService, err := services.NewSyncService(db, rm, client, executor, store, logger)
	if err != nil {
		return nil, err
	}

	httpServer := hs.NewServer(c.EndpointAddrHTTP, hs.Deps{
		Users:      services.NewUserService(db, rm, logger),
		Sync:       syncService,
		Login:      services.NewAuthService(verifier, codec, logger),
		Tokens:     codec,
		Identities: verifier,
		Logger:     logger,
	})

	return &App{
		config:            c,
		logger:            logger,
		db:                db,
		httpServer:        httpServer,
		grpcServer:        grpcServer,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// identitySource returns the store login checks passwords against. Both
// stores are seeded with the configured admin account; the database store
// keeps an existing row untouched.
func identitySource(ctx context.Context, c *config.Config, db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger) (auth.IdentitySource, error) {
	if c.CredentialStore == "memory" {
		src, err := auth.SeedAdmin(c.AdminUsername, c.AdminPassword, c.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("seed admin: %w", err)
		}
		return src, nil
	}

	repo := rm.Credentials(db)

	hash, err := auth.HashPassword(c.AdminPassword, c.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	created, err := repo.CreateIfAbsent(ctx, &models.Credential{
		Username:  c.AdminUsername,
		Hash:      hash,
		RoleNames: []string{"ADMIN"},
	})
	if err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	if created {
		logger.Info(ctx, "admin account created", "username", c.AdminUsername)
	}
	return repo, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpcServer.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
	}
}

// Run serves until ctx is done, a signal arrives or a transport fails, then
// releases the database and flushes pending spans.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "version", buildinfo.Version())

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	app.logger.Info(context.Background(), "Stopping app...")

	if err := app.shutdownTelemetry(context.Background()); err != nil {
		app.logger.Error(context.Background(), "telemetry shutdown failed", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close failed", "error", err)
	}
}
