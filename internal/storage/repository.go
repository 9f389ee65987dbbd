package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSnapshotsTableSQL = `CREATE TABLE IF NOT EXISTS user_reserves_snapshots (
        block_height                BIGINT  NOT NULL,
        block_timestamp             BIGINT  NOT NULL,
        "user"                      TEXT    NOT NULL,
        token_symbol                TEXT    NOT NULL,
        token_address               TEXT    NOT NULL,
        token_price_usd             NUMERIC NOT NULL,
        deposited_amount            NUMERIC NOT NULL,
        borrowed_amount             NUMERIC NOT NULL,
        deposited_points_multiplier NUMERIC NOT NULL,
        borrowed_points_multiplier  NUMERIC NOT NULL,
        PRIMARY KEY (block_height, "user", token_address)
    );`

	createFailuresTableSQL = `CREATE TABLE IF NOT EXISTS user_reserves_snapshots_failures (
        block_height    BIGINT  NOT NULL,
        block_timestamp BIGINT  NOT NULL,
        "user"          TEXT    NOT NULL,
        message         TEXT    NOT NULL,
        resolved        BOOLEAN NOT NULL DEFAULT FALSE,
        PRIMARY KEY (block_height, "user")
    );`

	insertSnapshotSQL = `INSERT INTO user_reserves_snapshots (
        block_height,
        block_timestamp,
        "user",
        token_symbol,
        token_address,
        token_price_usd,
        deposited_amount,
        borrowed_amount,
        deposited_points_multiplier,
        borrowed_points_multiplier
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (block_height, "user", token_address) DO NOTHING;`

	insertFailureSQL = `INSERT INTO user_reserves_snapshots_failures (
        block_height,
        block_timestamp,
        "user",
        message,
        resolved
    ) VALUES (
        $1,$2,$3,$4,FALSE
    )
    ON CONFLICT (block_height, "user") DO NOTHING;`

	maxSnapshotHeightSQL = `SELECT MAX(block_height) FROM user_reserves_snapshots;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM user_reserves_snapshots;`

	listUnresolvedFailuresSQL = `SELECT
        block_height,
        block_timestamp,
        "user",
        message,
        resolved
    FROM user_reserves_snapshots_failures
    WHERE resolved = FALSE
    ORDER BY block_height, "user";`

	markFailureResolvedSQL = `UPDATE user_reserves_snapshots_failures
    SET resolved = TRUE
    WHERE block_height = $1
      AND "user" = $2
      AND resolved = FALSE;`

	pointsForUserSQL = `SELECT
        COALESCE(SUM(token_price_usd * deposited_amount * deposited_points_multiplier), 0)::TEXT,
        COALESCE(SUM(token_price_usd * borrowed_amount * borrowed_points_multiplier), 0)::TEXT
    FROM user_reserves_snapshots
    WHERE "user" = $1;`

	pointsForUsersSQL = `SELECT
        "user",
        COALESCE(SUM(token_price_usd * deposited_amount * deposited_points_multiplier), 0)::TEXT,
        COALESCE(SUM(token_price_usd * borrowed_amount * borrowed_points_multiplier), 0)::TEXT
    FROM user_reserves_snapshots
    GROUP BY "user"
    ORDER BY SUM(token_price_usd * (deposited_amount * deposited_points_multiplier + borrowed_amount * borrowed_points_multiplier)) DESC
    OFFSET $1 LIMIT $2;`

	pointsTotalSQL = `SELECT
        COALESCE(SUM(token_price_usd * deposited_amount * deposited_points_multiplier), 0)::TEXT,
        COALESCE(SUM(token_price_usd * borrowed_amount * borrowed_points_multiplier), 0)::TEXT
    FROM user_reserves_snapshots;`

	roundTotalsSQL = `SELECT
        block_height,
        MIN(block_timestamp),
        COALESCE(SUM(token_price_usd * (deposited_amount * deposited_points_multiplier + borrowed_amount * borrowed_points_multiplier)), 0)::TEXT
    FROM user_reserves_snapshots
    GROUP BY block_height
    ORDER BY block_height;`
)

// SnapshotStore defines persistence for snapshot rows and their aggregation.
type SnapshotStore interface {
	MaxSnapshotHeight(ctx context.Context) (*uint64, error)
	SaveSnapshots(ctx context.Context, snapshots []Snapshot) error
	PointsForUser(ctx context.Context, user string) (Points, error)
	PointsForUsers(ctx context.Context, offset, limit int) ([]UserPoints, error)
	PointsTotal(ctx context.Context) (Points, error)
}

// FailureStore defines persistence for per-user snapshot failures.
type FailureStore interface {
	UnresolvedFailures(ctx context.Context) ([]Failure, error)
	SaveFailures(ctx context.Context, failures []Failure) error
	MarkFailureResolved(ctx context.Context, height uint64, user string) error
}

// Store aggregates access to snapshots and failures.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InitSchema creates the snapshot tables if they do not exist yet.
func (s *Store) InitSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createSnapshotsTableSQL); execErr != nil {
		return fmt.Errorf("create snapshots table: %w", execErr)
	}
	if _, execErr := pool.Exec(ctx, createFailuresTableSQL); execErr != nil {
		return fmt.Errorf("create failures table: %w", execErr)
	}
	return nil
}

// MaxSnapshotHeight returns the greatest stored block height, or nil when no
// snapshot has been taken yet.
func (s *Store) MaxSnapshotHeight(ctx context.Context) (*uint64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var max sql.NullInt64
	if scanErr := pool.QueryRow(ctx, maxSnapshotHeightSQL).Scan(&max); scanErr != nil {
		return nil, fmt.Errorf("max snapshot height: %w", scanErr)
	}
	if !max.Valid {
		return nil, nil
	}
	height := uint64(max.Int64)
	return &height, nil
}

// CountSnapshots counts stored snapshot rows.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// SaveSnapshots bulk-inserts snapshot rows. Duplicate primary keys are
// silently absorbed, which makes round replays and resolver retries safe.
func (s *Store) SaveSnapshots(ctx context.Context, snapshots []Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(insertSnapshotSQL,
			snap.BlockHeight,
			snap.BlockTimestamp,
			snap.User,
			snap.TokenSymbol,
			snap.TokenAddress,
			snap.TokenPriceUSD.String(),
			snap.DepositedAmount.String(),
			snap.BorrowedAmount.String(),
			snap.DepositedPointsMultiplier.String(),
			snap.BorrowedPointsMultiplier.String(),
		)
	}

	if execErr := pool.SendBatch(ctx, batch).Close(); execErr != nil {
		return fmt.Errorf("save snapshots: %w", execErr)
	}
	return nil
}

// SaveFailures bulk-inserts failure rows, ignoring duplicates so a failure
// recorded twice for the same (height, user) stays a single entry.
func (s *Store) SaveFailures(ctx context.Context, failures []Failure) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, failure := range failures {
		batch.Queue(insertFailureSQL,
			failure.BlockHeight,
			failure.BlockTimestamp,
			failure.User,
			failure.Message,
		)
	}

	if execErr := pool.SendBatch(ctx, batch).Close(); execErr != nil {
		return fmt.Errorf("save failures: %w", execErr)
	}
	return nil
}

// UnresolvedFailures lists failures awaiting resolution.
func (s *Store) UnresolvedFailures(ctx context.Context) ([]Failure, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listUnresolvedFailuresSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list unresolved failures: %w", queryErr)
	}
	defer rows.Close()

	failures := make([]Failure, 0)
	for rows.Next() {
		var failure Failure
		if err := rows.Scan(
			&failure.BlockHeight,
			&failure.BlockTimestamp,
			&failure.User,
			&failure.Message,
			&failure.Resolved,
		); err != nil {
			return nil, err
		}
		failures = append(failures, failure)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return failures, nil
}

// MarkFailureResolved flips a failure to resolved. Marking an already
// resolved or nonexistent entry is a no-op, so resolution is monotonic.
func (s *Store) MarkFailureResolved(ctx context.Context, height uint64, user string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markFailureResolvedSQL, height, user); execErr != nil {
		return fmt.Errorf("mark failure resolved: %w", execErr)
	}
	return nil
}

// PointsForUser sums a user's points over every stored snapshot row.
func (s *Store) PointsForUser(ctx context.Context, user string) (Points, error) {
	pool, err := s.getPool()
	if err != nil {
		return Points{}, err
	}

	var depositStr, borrowStr string
	if scanErr := pool.QueryRow(ctx, pointsForUserSQL, user).Scan(&depositStr, &borrowStr); scanErr != nil {
		return Points{}, fmt.Errorf("points for user: %w", scanErr)
	}
	return parsePoints(depositStr, borrowStr)
}

// PointsForUsers returns per-user cumulative points ordered by total
// descending, paginated by offset and limit.
func (s *Store) PointsForUsers(ctx context.Context, offset, limit int) ([]UserPoints, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pointsForUsersSQL, offset, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("points for users: %w", queryErr)
	}
	defer rows.Close()

	points := make([]UserPoints, 0, limit)
	for rows.Next() {
		var (
			user       string
			depositStr string
			borrowStr  string
		)
		if err := rows.Scan(&user, &depositStr, &borrowStr); err != nil {
			return nil, err
		}
		parsed, parseErr := parsePoints(depositStr, borrowStr)
		if parseErr != nil {
			return nil, parseErr
		}
		points = append(points, UserPoints{User: user, Points: parsed})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// PointsTotal sums points over every snapshot row of every user.
func (s *Store) PointsTotal(ctx context.Context) (Points, error) {
	pool, err := s.getPool()
	if err != nil {
		return Points{}, err
	}

	var depositStr, borrowStr string
	if scanErr := pool.QueryRow(ctx, pointsTotalSQL).Scan(&depositStr, &borrowStr); scanErr != nil {
		return Points{}, fmt.Errorf("points total: %w", scanErr)
	}
	return parsePoints(depositStr, borrowStr)
}

// RoundTotals returns the aggregate points contribution of each stored
// round, ordered by block height.
func (s *Store) RoundTotals(ctx context.Context) ([]RoundTotal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, roundTotalsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("round totals: %w", queryErr)
	}
	defer rows.Close()

	totals := make([]RoundTotal, 0)
	for rows.Next() {
		var (
			total    RoundTotal
			totalStr string
		)
		if err := rows.Scan(&total.BlockHeight, &total.BlockTimestamp, &totalStr); err != nil {
			return nil, err
		}
		parsed, parseErr := decimal.NewFromString(totalStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse round total: %w", parseErr)
		}
		total.Total = parsed
		totals = append(totals, total)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return totals, nil
}

func parsePoints(depositStr, borrowStr string) (Points, error) {
	deposit, err := decimal.NewFromString(depositStr)
	if err != nil {
		return Points{}, fmt.Errorf("parse deposit points: %w", err)
	}
	borrow, err := decimal.NewFromString(borrowStr)
	if err != nil {
		return Points{}, fmt.Errorf("parse borrow points: %w", err)
	}
	return Points{Deposit: deposit, Borrow: borrow, Total: deposit.Add(borrow)}, nil
}

var _ SnapshotStore = (*Store)(nil)
var _ FailureStore = (*Store)(nil)
