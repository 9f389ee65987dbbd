package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"molend-points/internal/alerting"
	"molend-points/internal/api"
	"molend-points/internal/chain"
	"molend-points/internal/config"
	"molend-points/internal/snapshot"
	"molend-points/internal/storage"
	"molend-points/internal/subgraph"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newChainClient() *chain.Client {
	return chain.NewClient(chain.ClientOptions{
		RPCURL:                       a.Config.Chain.RPCURL,
		UIPoolDataProvider:           a.Config.Molend.UIPoolDataProvider,
		LendingPoolAddressesProvider: a.Config.Molend.LendingPoolAddressesProvider,
		WalletBalanceProvider:        a.Config.Molend.WalletBalanceProvider,
		AaveOracle:                   a.Config.Molend.AaveOracle,
		Timeout:                      a.Config.Chain.RequestTimeout,
	}, a.Logger)
}

func (a *App) newSubgraphClient() *subgraph.Client {
	return subgraph.NewClient(subgraph.ClientOptions{
		APIURL:   a.Config.Subgraph.APIURL,
		PageSize: a.Config.Subgraph.PageSize,
		Timeout:  a.Config.Subgraph.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	return alerting.NewSlackNotifier(
		a.Config.Alerting.SlackWebhook,
		a.Config.App.Name,
		a.Config.Alerting.Channel,
		a.Config.Alerting.RequestTimeout,
		a.Logger,
	)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newEngine(store *storage.Store) *snapshot.Engine {
	return snapshot.New(
		a.Config,
		a.newChainClient(),
		a.newSubgraphClient(),
		store,
		store,
		a.newNotifier(),
		a.Logger,
	)
}

// Run executes the snapshot engine: the scheduler and the failure resolver
// as two concurrent loops, plus the read API when a listener is configured.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	engine := a.newEngine(store)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return engine.Run(groupCtx)
	})
	group.Go(func() error {
		return engine.ResolveFailures(groupCtx)
	})
	if a.Config.Server.ListenAddr != "" {
		server := api.NewServer(a.Config.Server, store, a.Logger)
		group.Go(func() error {
			return server.Run(groupCtx)
		})
	}

	a.Logger.Info().Msg("starting snapshot service")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("snapshot service terminated with error")
		return err
	}

	a.Logger.Info().Msg("snapshot service stopped")
	return nil
}

// Serve runs only the read API.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	server := api.NewServer(a.Config.Server, store, a.Logger)
	err = server.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// SnapshotOptions configure the one-shot snapshot command.
type SnapshotOptions struct {
	Height uint64
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting round totals.
type ExportOptions struct {
	PNGPath string
	CSVPath string
}
