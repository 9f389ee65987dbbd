package snapshot

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"molend-points/internal/chain"
	"molend-points/internal/config"
	"molend-points/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Chain: config.ChainConfig{
			AverageBlockTime: time.Millisecond,
		},
		Snapshot: config.SnapshotConfig{
			StartBlock:                4768609,
			BlockInterval:             10800,
			DepositedPointsMultiplier: 0.03,
			BorrowedPointsMultiplier:  0.3,
			BatchSize:                 10,
			HeadRecheckMaxBlocks:      30,
			RetryBackoff:              time.Millisecond,
			ResolverIdleInterval:      time.Millisecond,
		},
	}
}

type balancesFunc func(user common.Address, tokens []common.Address, height uint64) ([]*big.Int, error)

type fakeChain struct {
	head          chain.Block
	blocks        map[uint64]chain.Block
	reserves      []chain.Reserve
	prices        map[common.Address]*big.Int
	priceDecimals map[common.Address]uint8
	balances      balancesFunc
}

func (f *fakeChain) LatestBlock(ctx context.Context) (chain.Block, error) {
	return f.head, nil
}

func (f *fakeChain) BlockAt(ctx context.Context, height uint64) (chain.Block, error) {
	block, ok := f.blocks[height]
	if !ok {
		return chain.Block{}, fmt.Errorf("block %d not found", height)
	}
	return block, nil
}

func (f *fakeChain) ReservesData(ctx context.Context, height uint64) ([]chain.Reserve, error) {
	return f.reserves, nil
}

func (f *fakeChain) AssetPrice(ctx context.Context, token common.Address, height uint64) (*big.Int, error) {
	price, ok := f.prices[token]
	if !ok {
		return nil, fmt.Errorf("no price for %s", token.Hex())
	}
	return price, nil
}

func (f *fakeChain) AssetPriceDecimals(ctx context.Context, token common.Address, height uint64) (uint8, error) {
	decimals, ok := f.priceDecimals[token]
	if !ok {
		return 0, fmt.Errorf("no price source for %s", token.Hex())
	}
	return decimals, nil
}

func (f *fakeChain) BalancesOf(ctx context.Context, user common.Address, tokens []common.Address, height uint64) ([]*big.Int, error) {
	if f.balances != nil {
		return f.balances(user, tokens, height)
	}
	balances := make([]*big.Int, len(tokens))
	for i := range balances {
		balances[i] = big.NewInt(0)
	}
	return balances, nil
}

var _ chain.DataSource = (*fakeChain)(nil)

type fakeDirectory struct {
	users []string
}

func (f *fakeDirectory) Users(ctx context.Context, createdAtOrBeforeHeight uint64) ([]string, error) {
	return f.users, nil
}

type memStore struct {
	mu        sync.Mutex
	snapshots map[string]storage.Snapshot
	failures  map[string]storage.Failure
}

func newMemStore() *memStore {
	return &memStore{
		snapshots: make(map[string]storage.Snapshot),
		failures:  make(map[string]storage.Failure),
	}
}

func snapshotKey(height uint64, user, token string) string {
	return fmt.Sprintf("%d|%s|%s", height, user, token)
}

func failureKey(height uint64, user string) string {
	return fmt.Sprintf("%d|%s", height, user)
}

func (m *memStore) MaxSnapshotHeight(ctx context.Context) (*uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var max *uint64
	for _, snap := range m.snapshots {
		if max == nil || snap.BlockHeight > *max {
			height := snap.BlockHeight
			max = &height
		}
	}
	return max, nil
}

func (m *memStore) SaveSnapshots(ctx context.Context, snapshots []storage.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, snap := range snapshots {
		key := snapshotKey(snap.BlockHeight, snap.User, snap.TokenAddress)
		if _, exists := m.snapshots[key]; exists {
			continue
		}
		m.snapshots[key] = snap
	}
	return nil
}

func (m *memStore) PointsForUser(ctx context.Context, user string) (storage.Points, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var points storage.Points
	for _, snap := range m.snapshots {
		if snap.User != user {
			continue
		}
		row := storage.PointsOf(snap)
		points.Deposit = points.Deposit.Add(row.Deposit)
		points.Borrow = points.Borrow.Add(row.Borrow)
		points.Total = points.Total.Add(row.Total)
	}
	return points, nil
}

func (m *memStore) PointsForUsers(ctx context.Context, offset, limit int) ([]storage.UserPoints, error) {
	return nil, nil
}

func (m *memStore) PointsTotal(ctx context.Context) (storage.Points, error) {
	return storage.Points{}, nil
}

func (m *memStore) UnresolvedFailures(ctx context.Context) ([]storage.Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	unresolved := make([]storage.Failure, 0)
	for _, failure := range m.failures {
		if !failure.Resolved {
			unresolved = append(unresolved, failure)
		}
	}
	return unresolved, nil
}

func (m *memStore) SaveFailures(ctx context.Context, failures []storage.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, failure := range failures {
		key := failureKey(failure.BlockHeight, failure.User)
		if _, exists := m.failures[key]; exists {
			continue
		}
		m.failures[key] = failure
	}
	return nil
}

func (m *memStore) MarkFailureResolved(ctx context.Context, height uint64, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := failureKey(height, user)
	failure, ok := m.failures[key]
	if !ok || failure.Resolved {
		return nil
	}
	failure.Resolved = true
	m.failures[key] = failure
	return nil
}

func (m *memStore) snapshotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

var _ storage.SnapshotStore = (*memStore)(nil)
var _ storage.FailureStore = (*memStore)(nil)

func newTestEngine(cfg *config.Config, source chain.DataSource, users []string, store *memStore) *Engine {
	return New(cfg, source, &fakeDirectory{users: users}, store, store, nil, zerolog.Nop())
}

func userAddr(i int) string {
	return fmt.Sprintf("0x%040x", i)
}

func headBlock(height uint64) chain.Block {
	return chain.Block{Height: height, Timestamp: 1700000000}
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// singleReserveChain serves one reserve priced at 2 USD, with every user
// holding 100 deposited and 50 borrowed tokens.
func singleReserveChain() *fakeChain {
	token := common.BigToAddress(big.NewInt(0x100))
	aToken := common.BigToAddress(big.NewInt(0x200))
	vToken := common.BigToAddress(big.NewInt(0x300))
	start := uint64(4768609)

	return &fakeChain{
		blocks: map[uint64]chain.Block{start: headBlock(start)},
		reserves: []chain.Reserve{{
			UnderlyingAsset:   token,
			Symbol:            "WETH",
			Decimals:          18,
			AToken:            aToken,
			VariableDebtToken: vToken,
		}},
		prices:        map[common.Address]*big.Int{token: big.NewInt(200000000)},
		priceDecimals: map[common.Address]uint8{token: 8},
		balances: func(user common.Address, tokens []common.Address, height uint64) ([]*big.Int, error) {
			return []*big.Int{ether(100), ether(50)}, nil
		},
	}
}
