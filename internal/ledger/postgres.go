package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/executor"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id                 UUID PRIMARY KEY,
	path_id            TEXT NOT NULL,
	exchange           TEXT NOT NULL,
	dry_run            BOOLEAN NOT NULL,
	start_currency     TEXT NOT NULL,
	start_amount       DOUBLE PRECISION NOT NULL,
	end_amount         DOUBLE PRECISION NOT NULL,
	net_profit         DOUBLE PRECISION NOT NULL,
	net_profit_percent DOUBLE PRECISION NOT NULL,
	success            BOOLEAN NOT NULL,
	error              TEXT NOT NULL DEFAULT '',
	started_at         TIMESTAMPTZ NOT NULL,
	elapsed_ms         BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS execution_legs (
	execution_id  UUID NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
	leg_index     INT NOT NULL,
	pair          TEXT NOT NULL,
	side          TEXT NOT NULL,
	input_amount  DOUBLE PRECISION NOT NULL,
	output_amount DOUBLE PRECISION NOT NULL,
	price         DOUBLE PRECISION NOT NULL,
	fee           DOUBLE PRECISION NOT NULL,
	order_id      TEXT NOT NULL DEFAULT '',
	success       BOOLEAN NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (execution_id, leg_index)
);
CREATE TABLE IF NOT EXISTS execution_rollbacks (
	execution_id UUID NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
	leg_index    INT NOT NULL,
	pair         TEXT NOT NULL,
	side         TEXT NOT NULL,
	qty          DOUBLE PRECISION NOT NULL,
	order_id     TEXT NOT NULL DEFAULT '',
	success      BOOLEAN NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (execution_id, leg_index)
);
CREATE INDEX IF NOT EXISTS executions_started_at_idx ON executions (started_at DESC);
`

// Postgres is the pgxpool-backed ledger.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgres(ctx context.Context, dsn string, maxConns int, logger zerolog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	logger.Info().Msg("trade ledger connected")
	return &Postgres{pool: pool, logger: logger}, nil
}

// Record writes the execution and its legs and rollbacks in one
// transaction, so a crash mid-write never leaves a headless leg row.
func (p *Postgres) Record(ctx context.Context, res executor.ExecutionResult) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions
			(id, path_id, exchange, dry_run, start_currency, start_amount, end_amount,
			 net_profit, net_profit_percent, success, error, started_at, elapsed_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		res.ID, res.PathID, res.Exchange, res.DryRun, res.StartCurrency,
		res.StartAmount, res.EndAmount, res.NetProfit, res.NetProfitPercent,
		res.Success, res.Err, res.StartedAt, res.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", res.ID, err)
	}

	for _, leg := range res.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs
				(execution_id, leg_index, pair, side, input_amount, output_amount,
				 price, fee, order_id, success, error)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			res.ID, leg.Index, leg.Pair, string(leg.Side), leg.InputAmount, leg.OutputAmount,
			leg.Price, leg.Fee, leg.OrderID, leg.Success, leg.Err)
		if err != nil {
			return fmt.Errorf("insert execution leg %d: %w", leg.Index, err)
		}
	}

	for _, rb := range res.Rollbacks {
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_rollbacks
				(execution_id, leg_index, pair, side, qty, order_id, success, error)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			res.ID, rb.LegIndex, rb.Pair, string(rb.Side), rb.Qty, rb.OrderID, rb.Success, rb.Err)
		if err != nil {
			return fmt.Errorf("insert execution rollback %d: %w", rb.LegIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (p *Postgres) Close() { p.pool.Close() }
