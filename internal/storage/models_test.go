package storage

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPointsOfSplitsDepositAndBorrow(t *testing.T) {
	snap := Snapshot{
		TokenPriceUSD:             decimal.NewFromInt(2),
		DepositedAmount:           decimal.NewFromInt(100),
		BorrowedAmount:            decimal.NewFromInt(50),
		DepositedPointsMultiplier: decimal.RequireFromString("0.03"),
		BorrowedPointsMultiplier:  decimal.RequireFromString("0.3"),
	}

	points := PointsOf(snap)
	require.Equal(t, "6", points.Deposit.String())
	require.Equal(t, "30", points.Borrow.String())
	require.Equal(t, "36", points.Total.String())
}

func TestPointsOfSumsAcrossRows(t *testing.T) {
	rows := []Snapshot{
		{
			TokenPriceUSD:             decimal.NewFromInt(2),
			DepositedAmount:           decimal.NewFromInt(100),
			DepositedPointsMultiplier: decimal.RequireFromString("0.03"),
			BorrowedPointsMultiplier:  decimal.RequireFromString("0.3"),
		},
		{
			TokenPriceUSD:             decimal.NewFromInt(1),
			BorrowedAmount:            decimal.NewFromInt(50),
			DepositedPointsMultiplier: decimal.RequireFromString("0.03"),
			BorrowedPointsMultiplier:  decimal.RequireFromString("0.3"),
		},
	}

	var total Points
	for _, row := range rows {
		points := PointsOf(row)
		total.Deposit = total.Deposit.Add(points.Deposit)
		total.Borrow = total.Borrow.Add(points.Borrow)
		total.Total = total.Total.Add(points.Total)
	}

	require.Equal(t, "6", total.Deposit.String())
	require.Equal(t, "15", total.Borrow.String())
	require.Equal(t, "21", total.Total.String())
}

func TestPointsOfZeroPosition(t *testing.T) {
	snap := Snapshot{
		TokenPriceUSD:             decimal.NewFromInt(1800),
		DepositedPointsMultiplier: decimal.RequireFromString("0.03"),
		BorrowedPointsMultiplier:  decimal.RequireFromString("0.3"),
	}

	points := PointsOf(snap)
	require.True(t, points.Deposit.IsZero())
	require.True(t, points.Borrow.IsZero())
	require.True(t, points.Total.IsZero())
}

func TestPointsOfUsesMultipliersCapturedOnTheRow(t *testing.T) {
	old := Snapshot{
		TokenPriceUSD:             decimal.NewFromInt(1),
		DepositedAmount:           decimal.NewFromInt(10),
		DepositedPointsMultiplier: decimal.RequireFromString("0.05"),
		BorrowedPointsMultiplier:  decimal.RequireFromString("0.5"),
	}
	current := old
	current.DepositedPointsMultiplier = decimal.RequireFromString("0.03")

	require.Equal(t, "0.5", PointsOf(old).Deposit.String())
	require.Equal(t, "0.3", PointsOf(current).Deposit.String())
}
