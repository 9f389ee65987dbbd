package snapshot

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"molend-points/internal/chain"
)

// EnrichedReserve is a reserve descriptor annotated with its normalized
// oracle price at the round's pinned height. The enriched list is built once
// per round and shared read-only by every user in it; prices are never
// reused across rounds.
type EnrichedReserve struct {
	chain.Reserve
	PriceUSD decimal.Decimal
}

// enrichReserves fetches the oracle price and its source precision for each
// reserve at exactly the pinned height, so the whole round sees one
// consistent view of prices regardless of when each call lands.
func (e *Engine) enrichReserves(ctx context.Context, height uint64, reserves []chain.Reserve) ([]EnrichedReserve, error) {
	enriched := make([]EnrichedReserve, 0, len(reserves))
	for _, reserve := range reserves {
		price, err := e.chain.AssetPrice(ctx, reserve.UnderlyingAsset, height)
		if err != nil {
			return nil, &TransientError{Op: fmt.Sprintf("price of %s at block %d", reserve.Symbol, height), Err: err}
		}

		priceDecimals, err := e.chain.AssetPriceDecimals(ctx, reserve.UnderlyingAsset, height)
		if err != nil {
			return nil, &TransientError{Op: fmt.Sprintf("price decimals of %s at block %d", reserve.Symbol, height), Err: err}
		}

		enriched = append(enriched, EnrichedReserve{
			Reserve:  reserve,
			PriceUSD: normalize(price, int32(priceDecimals)),
		})
	}
	return enriched, nil
}
