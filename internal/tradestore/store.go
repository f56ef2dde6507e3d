package tradestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/coinhaven/swapd/internal/swap"
	"github.com/coinhaven/swapd/pkg/model"
)

// Store persists trade records in Postgres. Rows are keyed by trade_id and
// unique-indexed on upstream_trade_id; that index is the idempotency guard
// for the create-trade retry path. Trades are never deleted: terminal rows
// are retained as audit records.
//
// Table (schema swap):
//
//	trades(trade_id uuid pk, upstream_trade_id text unique not null,
//	  owner text not null, from_asset text, from_network text,
//	  to_asset text, to_network text, amount numeric, quoted_rate numeric,
//	  quoted_output_amount numeric, provider text, deposit_address text,
//	  refund_address text, destination_address text, status text not null,
//	  created_at timestamptz, last_checked_at timestamptz,
//	  terminal_at timestamptz)
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// New connects a pgx pool to the given DSN.
func New(ctx context.Context, pgURL string, poolCfg PoolConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

const tradeColumns = `
	trade_id, upstream_trade_id, owner,
	from_asset, from_network, to_asset, to_network,
	amount, quoted_rate, quoted_output_amount, provider,
	deposit_address, refund_address, destination_address,
	status, created_at, last_checked_at, terminal_at`

// Insert persists a freshly created trade. A unique violation on
// upstream_trade_id maps to ErrDuplicateUpstreamID.
func (s *Store) Insert(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO swap.trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		t.TradeID, t.UpstreamTradeID, t.Owner,
		t.FromAsset, t.FromNetwork, t.ToAsset, t.ToNetwork,
		t.Amount, t.QuotedRate, t.QuotedOutputAmount, t.Provider,
		t.DepositAddress, t.RefundAddress, t.DestinationAddress,
		string(t.Status), t.CreatedAt, t.LastCheckedAt, t.TerminalAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return swap.ErrDuplicateUpstreamID
		}
		s.logger.Error("tradestore.insert_failed",
			zap.String("trade_id", t.TradeID),
			zap.Error(err))
		return err
	}
	return nil
}

// Get fetches a trade by local id.
func (s *Store) Get(ctx context.Context, tradeID string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tradeColumns+`
		FROM swap.trades
		WHERE trade_id = $1
	`, tradeID)
	return scanTrade(row)
}

// GetByUpstreamID fetches a trade by the aggregator's id. Used by the
// duplicate-recovery path during create retries.
func (s *Store) GetByUpstreamID(ctx context.Context, upstreamID string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tradeColumns+`
		FROM swap.trades
		WHERE upstream_trade_id = $1
	`, upstreamID)
	return scanTrade(row)
}

// UpdateStatus applies the monotonic transition rule under a row lock.
// Illegal transitions (backward moves, anything out of a terminal state)
// are a no-op, not an error; last_checked_at always advances. The row as
// persisted is returned.
func (s *Store) UpdateStatus(ctx context.Context, tradeID string, newStatus model.Status, checkedAt time.Time) (*model.Trade, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin status update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+tradeColumns+`
		FROM swap.trades
		WHERE trade_id = $1
		FOR UPDATE
	`, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		return nil, err
	}

	if model.CanTransition(t.Status, newStatus) {
		var terminalAt *time.Time
		if newStatus.Terminal() {
			ts := checkedAt
			terminalAt = &ts
		}
		_, err = tx.Exec(ctx, `
			UPDATE swap.trades
			SET status = $2, last_checked_at = $3,
			    terminal_at = COALESCE(terminal_at, $4)
			WHERE trade_id = $1
		`, tradeID, string(newStatus), checkedAt, terminalAt)
		if err != nil {
			return nil, fmt.Errorf("apply status update: %w", err)
		}
		t.Status = newStatus
		t.LastCheckedAt = checkedAt
		if t.TerminalAt == nil {
			t.TerminalAt = terminalAt
		}
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE swap.trades
			SET last_checked_at = $2
			WHERE trade_id = $1
		`, tradeID, checkedAt)
		if err != nil {
			return nil, fmt.Errorf("touch trade: %w", err)
		}
		t.LastCheckedAt = checkedAt
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}
	return t, nil
}

// TouchChecked advances last_checked_at without changing status. Used when
// upstream reports an unrecognized status (the UNKNOWN sentinel).
func (s *Store) TouchChecked(ctx context.Context, tradeID string, checkedAt time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE swap.trades
		SET last_checked_at = $2
		WHERE trade_id = $1
	`, tradeID, checkedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return swap.ErrTradeNotFound
	}
	return nil
}

// ListNonTerminal returns ids of live trades not checked since the cutoff,
// oldest first. Feeds the background status sweeper.
func (s *Store) ListNonTerminal(ctx context.Context, checkedBefore time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id
		FROM swap.trades
		WHERE terminal_at IS NULL AND last_checked_at < $1
		ORDER BY last_checked_at ASC
		LIMIT $2
	`, checkedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Pool exposes the underlying connection pool for components that share
// the database (catalog reference tables).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func scanTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	var status string
	err := row.Scan(
		&t.TradeID, &t.UpstreamTradeID, &t.Owner,
		&t.FromAsset, &t.FromNetwork, &t.ToAsset, &t.ToNetwork,
		&t.Amount, &t.QuotedRate, &t.QuotedOutputAmount, &t.Provider,
		&t.DepositAddress, &t.RefundAddress, &t.DestinationAddress,
		&status, &t.CreatedAt, &t.LastCheckedAt, &t.TerminalAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, swap.ErrTradeNotFound
		}
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	t.Status = model.Status(status)
	return &t, nil
}
