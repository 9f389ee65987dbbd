package snapshot

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"molend-points/internal/chain"
	"molend-points/internal/storage"
)

// buildUserSnapshots computes one user's per-reserve rows at the pinned
// block. Any failed balance read aborts the whole user with a
// UserComputationError; a partial snapshot is never emitted.
func (e *Engine) buildUserSnapshots(ctx context.Context, block chain.Block, user string, reserves []EnrichedReserve) ([]storage.Snapshot, error) {
	userAddr := common.HexToAddress(user)

	snapshots := make([]storage.Snapshot, 0, len(reserves))
	for _, reserve := range reserves {
		balances, err := e.chain.BalancesOf(
			ctx,
			userAddr,
			[]common.Address{reserve.AToken, reserve.VariableDebtToken},
			block.Height,
		)
		if err != nil {
			return nil, &UserComputationError{User: user, Height: block.Height, Err: err}
		}

		snapshots = append(snapshots, storage.Snapshot{
			BlockHeight:               block.Height,
			BlockTimestamp:            int64(block.Timestamp),
			User:                      user,
			TokenSymbol:               reserve.Symbol,
			TokenAddress:              reserve.UnderlyingAsset.Hex(),
			TokenPriceUSD:             reserve.PriceUSD,
			DepositedAmount:           normalize(balances[0], reserve.Decimals),
			BorrowedAmount:            normalize(balances[1], reserve.Decimals),
			DepositedPointsMultiplier: e.depositedMultiplier,
			BorrowedPointsMultiplier:  e.borrowedMultiplier,
		})
	}
	return snapshots, nil
}
