package storage

import (
	"github.com/shopspring/decimal"
)

// Snapshot represents one user's position in one reserve at one block height.
// Rows are append-only and keyed by (block_height, user, token_address).
type Snapshot struct {
	BlockHeight               uint64
	BlockTimestamp            int64 // seconds
	User                      string
	TokenSymbol               string
	TokenAddress              string
	TokenPriceUSD             decimal.Decimal
	DepositedAmount           decimal.Decimal
	BorrowedAmount            decimal.Decimal
	DepositedPointsMultiplier decimal.Decimal
	BorrowedPointsMultiplier  decimal.Decimal
}

// Failure captures a user whose snapshot computation failed at a height.
// Resolved transitions false to true exactly once, never back.
type Failure struct {
	BlockHeight    uint64
	BlockTimestamp int64 // seconds
	User           string
	Message        string
	Resolved       bool
}

// Points aggregates reward points split into deposit and borrow components.
type Points struct {
	Deposit decimal.Decimal
	Borrow  decimal.Decimal
	Total   decimal.Decimal
}

// PointsOf returns the points contribution of a single snapshot row. It is
// the row-level form of the SQL aggregation: token price times amount times
// the multiplier captured when the row was written.
func PointsOf(s Snapshot) Points {
	deposit := s.TokenPriceUSD.Mul(s.DepositedAmount).Mul(s.DepositedPointsMultiplier)
	borrow := s.TokenPriceUSD.Mul(s.BorrowedAmount).Mul(s.BorrowedPointsMultiplier)
	return Points{Deposit: deposit, Borrow: borrow, Total: deposit.Add(borrow)}
}

// UserPoints pairs one user with their cumulative points.
type UserPoints struct {
	User   string
	Points Points
}

// RoundTotal is the aggregate points contribution of one snapshot round.
type RoundTotal struct {
	BlockHeight    uint64
	BlockTimestamp int64
	Total          decimal.Decimal
}
