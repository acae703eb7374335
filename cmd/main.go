package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/popclaim/internal/adapters/chain/simulated"
	"github.com/okian/popclaim/internal/adapters/chain/solana"
	"github.com/okian/popclaim/internal/adapters/http/api"
	"github.com/okian/popclaim/internal/adapters/http/swagger"
	"github.com/okian/popclaim/internal/adapters/repository"
	"github.com/okian/popclaim/internal/adapters/repository/postgres"
	app "github.com/okian/popclaim/internal/app"
	"github.com/okian/popclaim/internal/config"
	"github.com/okian/popclaim/internal/domain/cost"
	"github.com/okian/popclaim/internal/domain/mint"
	"github.com/okian/popclaim/internal/domain/tree"
	"github.com/okian/popclaim/migrations"
	"github.com/okian/popclaim/pkg/logger"
	"github.com/okian/popclaim/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	writeTimeoutSlack         = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	configureLogging(ctx, cfg)
	configureMetrics(cfg)

	if err := run(ctx, cfg, logger.Get()); err != nil {
		logger.Get().Error(ctx, "claim service exited", logger.Error(err))
		os.Exit(1)
	}
}

func configureLogging(ctx context.Context, cfg *config.Config) {
	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		logger.Get().Warn(ctx, "invalid log_format; falling back to text", logger.String("log_format", cfg.LogFormat), logger.Error(err))
		_ = logger.SetFormat("text")
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
}

// configureMetrics rebuilds the collectors served on /healthz from cfg.
func configureMetrics(cfg *config.Config) {
	metrics.Configure(
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithHistogramBuckets(cfg.MetricsHistogramBuckets),
		metrics.WithRefreshInterval(cfg.MetricsRefreshInterval()),
	)
}

// run serves until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	svc, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, cfg, svc, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      cfg.SubmitTimeout() + cfg.ConfirmTimeout() + writeTimeoutSlack,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = svc.Stop(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

func newMux(ctx context.Context, cfg *config.Config, svc *app.Service, log logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc,
		api.WithOrganizerTokenHashes(cfg.OrganizerTokenHashes),
		api.WithLogger(log.Named("api")),
	).Register(ctx, mux)
	return mux
}

// buildService wires the store, the chain and the domain components.
func buildService(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Service, error) {
	regular, compressed, treeCost, err := cfg.Costs()
	if err != nil {
		return nil, err
	}
	store, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	chain, planner, err := newChain(ctx, cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return app.New(store, chain,
		app.WithLogger(log),
		app.WithPlanner(planner),
		app.WithEstimator(cost.NewEstimator(
			cost.WithUnitCosts(regular, compressed),
			cost.WithTreeCreationCost(treeCost),
		)),
		app.WithWorkerCount(cfg.ReconcileWorkers),
		app.WithQueueSize(cfg.ReconcileQueueSize),
		app.WithSweepInterval(cfg.SweepInterval()),
		app.WithClaimBaseURL(cfg.ClaimBaseURL),
		app.WithMaxListLimit(cfg.MaxListLimit),
		app.WithMaxIssueBatch(cfg.MaxIssueBatch),
		app.WithMintOptions(
			mint.WithSubmitTimeout(cfg.SubmitTimeout()),
			mint.WithConfirmTimeout(cfg.ConfirmTimeout()),
			mint.WithBlockhashTTL(cfg.BlockhashTTL()),
			mint.WithLeaseTTL(cfg.AttemptLeaseTTL()),
			mint.WithSymbol(cfg.TokenSymbol),
		),
		app.WithTreeOptions(
			tree.WithTimeout(cfg.ProvisionTimeout()),
			tree.WithResolveAfter(cfg.BlockhashTTL()),
		),
	), nil
}

func newStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		applied, err := migrations.Apply(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info(ctx, "using postgres store", logger.Any("migrated", applied))
		return postgres.New(pool), nil
	default:
		log.Info(ctx, "using memory store", logger.Int("shards", cfg.ShardCount))
		return repository.NewMemoryStore(ctx, repository.WithShardCount(cfg.ShardCount)), nil
	}
}

func newChain(ctx context.Context, cfg *config.Config, log logger.Logger) (mint.Chain, tree.Planner, error) {
	planner := tree.NewPlanner(cfg.TreeMinDepth, cfg.TreeMaxDepth, cfg.TreeMaxBuffer)

	if cfg.ChainDriver != config.DriverSolana {
		log.Warn(ctx, "using simulated chain; no tokens reach a real ledger")
		return simulated.New(
			simulated.WithLatency(time.Duration(cfg.SimLatencyMinMS)*time.Millisecond, time.Duration(cfg.SimLatencyMaxMS)*time.Millisecond),
			simulated.WithSubmitFailureRate(cfg.SimSubmitFailureRate),
			simulated.WithUnknownRate(cfg.SimUnknownRate),
			simulated.WithProvisionFailureRate(cfg.SimProvisionFailRate),
			simulated.WithPollInterval(cfg.ConfirmPoll()),
			simulated.WithLogger(log.Named("chain")),
		), planner, nil
	}

	var (
		payer types.Account
		err   error
	)
	if cfg.PayerSecretName != "" {
		payer, err = solana.LoadKeypairSecret(ctx, cfg.PayerSecretName)
	} else {
		payer, err = solana.LoadKeypairFile(cfg.PayerKeypairFile)
	}
	if err != nil {
		return nil, tree.Planner{}, fmt.Errorf("load payer keypair: %w", err)
	}
	planner = planner.Restrict(solana.Supported)
	if planner.MaxCapacity() == 0 {
		return nil, tree.Planner{}, fmt.Errorf("%w: no supported tree shape within depth [%d, %d] and buffer %d",
			config.ErrInvalidConfig, cfg.TreeMinDepth, cfg.TreeMaxDepth, cfg.TreeMaxBuffer)
	}
	chain := solana.New(cfg.SolanaRPCURL, payer,
		solana.WithCommitment(cfg.SolanaCommitment),
		solana.WithPollInterval(cfg.ConfirmPoll()),
		solana.WithLogger(log.Named("chain")),
	)
	log.Info(ctx, "using solana chain",
		logger.String("rpc", cfg.SolanaRPCURL),
		logger.String("payer", chain.Payer()),
		logger.Int("maxSupply", planner.MaxCapacity()))
	return chain, planner, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the store and queue gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Stats updates the gauges as a side effect.
			_, _ = svc.Stats(ctx)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
