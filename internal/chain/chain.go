package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Block identifies one chain block by height and timestamp (seconds).
type Block struct {
	Height    uint64
	Timestamp uint64
}

// Reserve describes one lending protocol asset together with its
// deposit-token and debt-token representations.
type Reserve struct {
	UnderlyingAsset   common.Address
	Symbol            string
	Decimals          int32
	AToken            common.Address
	VariableDebtToken common.Address
}

// DataSource provides point-in-time reads of chain state. Every method that
// accepts a height reads state at exactly that block, never at "latest".
type DataSource interface {
	LatestBlock(ctx context.Context) (Block, error)
	BlockAt(ctx context.Context, height uint64) (Block, error)
	ReservesData(ctx context.Context, height uint64) ([]Reserve, error)
	AssetPrice(ctx context.Context, token common.Address, height uint64) (*big.Int, error)
	AssetPriceDecimals(ctx context.Context, token common.Address, height uint64) (uint8, error)
	BalancesOf(ctx context.Context, user common.Address, tokens []common.Address, height uint64) ([]*big.Int, error)
}
