package snapshot

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"molend-points/internal/chain"
)

func TestEnrichReservesNormalizesPrices(t *testing.T) {
	cfg := testConfig()
	source := singleReserveChain()

	other := common.BigToAddress(big.NewInt(0x400))
	source.reserves = append(source.reserves, chain.Reserve{
		UnderlyingAsset: other,
		Symbol:          "USDC",
		Decimals:        6,
	})
	source.prices[other] = big.NewInt(999999123456789)
	source.priceDecimals[other] = 18

	store := newMemStore()
	engine := newTestEngine(cfg, source, nil, store)

	enriched, err := engine.enrichReserves(context.Background(), cfg.Snapshot.StartBlock, source.reserves)
	require.NoError(t, err)
	require.Len(t, enriched, 2)

	require.Equal(t, "2", enriched[0].PriceUSD.String())
	// 0.000999999123456789 at 18 price decimals truncates round-down at 8.
	require.Equal(t, "0.00099999", enriched[1].PriceUSD.String())
}

func TestEnrichReservesFailsTransiently(t *testing.T) {
	cfg := testConfig()
	source := singleReserveChain()
	delete(source.prices, source.reserves[0].UnderlyingAsset)

	store := newMemStore()
	engine := newTestEngine(cfg, source, nil, store)

	_, err := engine.enrichReserves(context.Background(), cfg.Snapshot.StartBlock, source.reserves)
	require.Error(t, err)

	var transient *TransientError
	require.ErrorAs(t, err, &transient)
}
