package snapshot

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"molend-points/internal/alerting"
	"molend-points/internal/chain"
	"molend-points/internal/config"
	"molend-points/internal/storage"
	"molend-points/internal/subgraph"
)

// Monetary fields are truncated round-down to this many fractional digits.
// Intermediate computation runs at much higher precision before truncation.
const amountPlaces = 8

func init() {
	decimal.DivisionPrecision = 100
}

// Engine drives the snapshot lifecycle: the block-height scheduler, the
// per-user computation pipeline, and the failure resolver. It holds no
// mutable state of its own; all durable state lives in the stores.
type Engine struct {
	chain     chain.DataSource
	users     subgraph.UserDirectory
	snapshots storage.SnapshotStore
	failures  storage.FailureStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	startBlock           uint64
	interval             uint64
	depositedMultiplier  decimal.Decimal
	borrowedMultiplier   decimal.Decimal
	batchSize            int
	averageBlockTime     time.Duration
	headRecheckMaxBlocks uint64
	retryBackoff         time.Duration
	resolverIdle         time.Duration
}

// New constructs the snapshot engine.
func New(
	cfg *config.Config,
	source chain.DataSource,
	users subgraph.UserDirectory,
	snapshots storage.SnapshotStore,
	failures storage.FailureStore,
	notifier alerting.Notifier,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		chain:                source,
		users:                users,
		snapshots:            snapshots,
		failures:             failures,
		notifier:             notifier,
		logger:               logger.With().Str("component", "snapshot_engine").Logger(),
		startBlock:           cfg.Snapshot.StartBlock,
		interval:             cfg.Snapshot.BlockInterval,
		depositedMultiplier:  decimal.NewFromFloat(cfg.Snapshot.DepositedPointsMultiplier),
		borrowedMultiplier:   decimal.NewFromFloat(cfg.Snapshot.BorrowedPointsMultiplier),
		batchSize:            cfg.Snapshot.BatchSize,
		averageBlockTime:     cfg.Chain.AverageBlockTime,
		headRecheckMaxBlocks: cfg.Snapshot.HeadRecheckMaxBlocks,
		retryBackoff:         cfg.Snapshot.RetryBackoff,
		resolverIdle:         cfg.Snapshot.ResolverIdleInterval,
	}
}

// NextHeight returns the height of the next snapshot round. Heights form the
// arithmetic sequence {start, start + interval, ...}; the last stored height
// is nil before the first round.
func (e *Engine) NextHeight(last *uint64) uint64 {
	if last == nil {
		return e.startBlock
	}
	return *last + e.interval
}

// Run executes snapshot rounds until ctx is cancelled. Every failure short
// of cancellation is alerted and retried; the loop never terminates the
// process on its own.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()

		last, err := e.snapshots.MaxSnapshotHeight(ctx)
		if err != nil {
			e.alert(ctx, alerting.LevelError, "failed to get next snapshot block height: %v", err)
			if err := sleepCtx(ctx, e.retryBackoff); err != nil {
				return err
			}
			continue
		}
		next := e.NextHeight(last)

		head, err := e.chain.LatestBlock(ctx)
		if err != nil {
			e.alert(ctx, alerting.LevelError, "failed to get latest block: %v", &TransientError{Op: "latest block", Err: err})
			if err := sleepCtx(ctx, e.retryBackoff); err != nil {
				return err
			}
			continue
		}

		if head.Height < next {
			remaining := next - head.Height
			wait := time.Duration(min(remaining, e.headRecheckMaxBlocks)) * e.averageBlockTime
			e.logger.Info().
				Uint64("next_snapshot_block", next).
				Uint64("current_block", head.Height).
				Dur("wait", wait).
				Msg("waiting for snapshot block")
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue
		}

		block, err := e.chain.BlockAt(ctx, next)
		if err != nil {
			e.alert(ctx, alerting.LevelError, "failed to get block %d: %v", next, err)
			if err := sleepCtx(ctx, e.retryBackoff); err != nil {
				return err
			}
			continue
		}

		users, err := e.users.Users(ctx, block.Height)
		if err != nil {
			e.alert(ctx, alerting.LevelError, "failed to get users: %v", &TransientError{Op: "list users", Err: err})
			if err := sleepCtx(ctx, e.retryBackoff); err != nil {
				return err
			}
			continue
		}

		rows, err := e.takeAt(ctx, block, users)
		if err != nil {
			e.alert(ctx, alerting.LevelError, "failed to take snapshot at block %d: %v", block.Height, err)
			if err := sleepCtx(ctx, e.retryBackoff); err != nil {
				return err
			}
			continue
		}

		e.logger.Info().
			Uint64("block", block.Height).
			Int("users", len(users)).
			Int("rows", rows).
			Dur("duration", time.Since(start)).
			Msg("snapshot round complete")
	}
}

// RunRoundAt executes a single round pinned to an explicit height,
// bypassing the scheduler. Used by the one-shot CLI command.
func (e *Engine) RunRoundAt(ctx context.Context, height uint64) (int, error) {
	block, err := e.chain.BlockAt(ctx, height)
	if err != nil {
		return 0, &TransientError{Op: fmt.Sprintf("block %d", height), Err: err}
	}

	users, err := e.users.Users(ctx, block.Height)
	if err != nil {
		return 0, &TransientError{Op: "list users", Err: err}
	}

	return e.takeAt(ctx, block, users)
}

// takeAt computes and persists the snapshot of every given user at one
// pinned block, recording per-user failures without aborting the round.
// Returns the number of snapshot rows written.
func (e *Engine) takeAt(ctx context.Context, block chain.Block, users []string) (int, error) {
	reserves, err := e.chain.ReservesData(ctx, block.Height)
	if err != nil {
		return 0, &TransientError{Op: fmt.Sprintf("reserves at block %d", block.Height), Err: err}
	}

	enriched, err := e.enrichReserves(ctx, block.Height, reserves)
	if err != nil {
		return 0, err
	}

	snapshots, failures := e.runBatch(ctx, block, users, enriched)

	if len(snapshots) != 0 {
		if err := e.snapshots.SaveSnapshots(ctx, snapshots); err != nil {
			return 0, err
		}
	}

	if len(failures) != 0 {
		if err := e.failures.SaveFailures(ctx, failures); err != nil {
			return 0, err
		}
	}

	return len(snapshots), nil
}

// normalize scales a raw integer amount by the given number of decimals and
// truncates round-down to the fixed fractional precision.
func normalize(raw *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -decimals).Truncate(amountPlaces)
}

func (e *Engine) alert(ctx context.Context, level alerting.Level, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	switch level {
	case alerting.LevelError:
		e.logger.Error().Msg(message)
	case alerting.LevelWarning:
		e.logger.Warn().Msg(message)
	default:
		e.logger.Info().Msg(message)
	}

	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, level, message); err != nil {
		e.logger.Error().Err(err).Msg("failed to deliver alert")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
