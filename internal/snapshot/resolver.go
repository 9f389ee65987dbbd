package snapshot

import (
	"context"
	"fmt"

	"molend-points/internal/alerting"
	"molend-points/internal/storage"
)

// ResolveFailures re-drives previously failed (height, user) snapshots until
// each yields rows. Runs concurrently with the scheduler for the process
// lifetime; errors are alerted and the loop continues, never fatal.
func (e *Engine) ResolveFailures(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		failures, err := e.failures.UnresolvedFailures(ctx)
		if err != nil {
			e.alert(ctx, alerting.LevelError, "failed to list unresolved snapshot failures: %v", err)
			if err := sleepCtx(ctx, e.retryBackoff); err != nil {
				return err
			}
			continue
		}

		if len(failures) == 0 {
			if err := sleepCtx(ctx, e.resolverIdle); err != nil {
				return err
			}
			continue
		}

		for _, failure := range failures {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.resolveFailure(ctx, failure); err != nil {
				e.alert(ctx, alerting.LevelError, "failed to resolve snapshot failure for %s at block %d: %v", failure.User, failure.BlockHeight, err)
			}
		}
	}
}

// resolveFailure retries one failed user at the originally recorded height.
// The failure is marked resolved only when the retry yields at least one
// row; a zero-row or erroring retry leaves it for the next pass.
func (e *Engine) resolveFailure(ctx context.Context, failure storage.Failure) error {
	block, err := e.chain.BlockAt(ctx, failure.BlockHeight)
	if err != nil {
		return &TransientError{Op: fmt.Sprintf("block %d", failure.BlockHeight), Err: err}
	}

	rows, err := e.takeAt(ctx, block, []string{failure.User})
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}

	if err := e.failures.MarkFailureResolved(ctx, failure.BlockHeight, failure.User); err != nil {
		return err
	}

	e.logger.Info().
		Str("user", failure.User).
		Uint64("block", failure.BlockHeight).
		Int("rows", rows).
		Msg("snapshot failure resolved")
	return nil
}
