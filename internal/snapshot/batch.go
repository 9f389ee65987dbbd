package snapshot

import (
	"context"
	"errors"
	"sync"

	"github.com/alitto/pond/v2"

	"molend-points/internal/alerting"
	"molend-points/internal/chain"
	"molend-points/internal/storage"
)

// runBatch fans buildUserSnapshots out over the user list with a bounded
// worker pool, capping simultaneous chain RPC calls. A user's failure is
// captured as a failure row and alerted, but the batch continues for the
// remaining users. Completion order carries no meaning; storage is keyed.
func (e *Engine) runBatch(ctx context.Context, block chain.Block, users []string, reserves []EnrichedReserve) ([]storage.Snapshot, []storage.Failure) {
	var (
		mu        sync.Mutex
		snapshots []storage.Snapshot
		failures  []storage.Failure
	)

	pool := pond.NewPool(e.batchSize)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, user := range users {
		user := user
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}

			rows, err := e.buildUserSnapshots(groupCtx, block, user, reserves)
			if err != nil {
				e.alert(groupCtx, alerting.LevelError, "failed to take snapshot for %s at block %d: %v", user, block.Height, err)
				mu.Lock()
				failures = append(failures, storage.Failure{
					BlockHeight:    block.Height,
					BlockTimestamp: int64(block.Timestamp),
					User:           user,
					Message:        err.Error(),
				})
				mu.Unlock()
				return
			}

			mu.Lock()
			snapshots = append(snapshots, rows...)
			mu.Unlock()
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		e.logger.Warn().Err(err).Uint64("block", block.Height).Msg("batch wait returned error")
	}

	return snapshots, failures
}
