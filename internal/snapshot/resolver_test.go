package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"molend-points/internal/storage"
)

func TestResolveFailureRetriesAndMarksResolved(t *testing.T) {
	cfg := testConfig()
	source := singleReserveChain()
	store := newMemStore()
	user := userAddr(1)
	start := cfg.Snapshot.StartBlock

	require.NoError(t, store.SaveFailures(context.Background(), []storage.Failure{{
		BlockHeight: start,
		User:        user,
		Message:     "execution reverted",
	}}))

	engine := newTestEngine(cfg, source, []string{user}, store)

	failures, err := store.UnresolvedFailures(context.Background())
	require.NoError(t, err)
	require.Len(t, failures, 1)

	require.NoError(t, engine.resolveFailure(context.Background(), failures[0]))

	require.Equal(t, 1, store.snapshotCount())
	_, ok := store.snapshots[snapshotKey(start, user, source.reserves[0].UnderlyingAsset.Hex())]
	require.True(t, ok)

	failures, err = store.UnresolvedFailures(context.Background())
	require.NoError(t, err)
	require.Empty(t, failures)
}

func TestResolveFailureZeroRowsStaysUnresolved(t *testing.T) {
	cfg := testConfig()
	source := singleReserveChain()
	source.reserves = nil
	store := newMemStore()
	user := userAddr(1)

	failure := storage.Failure{
		BlockHeight: cfg.Snapshot.StartBlock,
		User:        user,
		Message:     "execution reverted",
	}
	require.NoError(t, store.SaveFailures(context.Background(), []storage.Failure{failure}))

	engine := newTestEngine(cfg, source, []string{user}, store)

	require.NoError(t, engine.resolveFailure(context.Background(), failure))

	require.Zero(t, store.snapshotCount())
	failures, err := store.UnresolvedFailures(context.Background())
	require.NoError(t, err)
	require.Len(t, failures, 1)
}

func TestResolveFailureMissingBlockIsTransient(t *testing.T) {
	cfg := testConfig()
	source := singleReserveChain()
	store := newMemStore()

	engine := newTestEngine(cfg, source, nil, store)

	err := engine.resolveFailure(context.Background(), storage.Failure{
		BlockHeight: cfg.Snapshot.StartBlock + 1,
		User:        userAddr(1),
	})
	require.Error(t, err)

	var transient *TransientError
	require.ErrorAs(t, err, &transient)
}
