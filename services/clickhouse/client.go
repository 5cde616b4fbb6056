// Package clickhouse persists finished trade ledgers and serves price
// series for simulations.
package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"

	"tradesim/services/engine"
	"tradesim/services/marketdata"
)

// Options for the connection; mirrors the environment configuration.
type Options struct {
	DSN      string
	Database string
	User     string
	Password string
}

// Client wraps one ClickHouse connection.
type Client struct {
	conn clickhouse.Conn
	db   string
}

// Open connects and pings.
func Open(ctx context.Context, opts Options) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{dsnHost(opts.DSN)},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Client{conn: conn, db: opts.Database}, nil
}

// dsnHost extracts host:port from a DSN-like URL for driver bootstrap.
func dsnHost(dsn string) string {
	host := "localhost:9000"
	if i := strings.Index(dsn, "@"); i != -1 {
		rest := dsn[i+1:]
		if j := strings.Index(rest, "?"); j != -1 {
			host = rest[:j]
		} else {
			host = rest
		}
		host = strings.TrimPrefix(host, "/")
		host = strings.TrimPrefix(host, "//")
	}
	return host
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// EnsureSchema creates the database and the trades table.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", c.db)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.trades (
			run_id String,
			trade_id String,
			security String,
			direction LowCardinality(String),
			entry_time DateTime64(3),
			entry_tick Int64,
			entry_price Float64,
			unit_size Int64,
			lot_size Float64,
			entry_atr Float64,
			exit_time DateTime64(3),
			exit_tick Int64,
			exit_price Float64,
			exit_type LowCardinality(String),
			gross_profit Float64,
			slippage_cost Float64,
			transaction_cost Float64,
			net_profit Float64,
			exit_atr Float64,
			inserted_at DateTime64(3),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (run_id, trade_id)
		SETTINGS index_granularity = 8192
	`, c.db)
	return c.conn.Exec(ctx, ddl)
}

// SaveLedger batch-inserts the closed rows of a finished run, keyed by the
// run ID so re-inserting the same run is deduplicated.
func (c *Client) SaveLedger(ctx context.Context, runID string, rows []*engine.LedgerRow) error {
	batch, err := c.conn.PrepareBatch(ctx,
		fmt.Sprintf(`INSERT INTO %s.trades SETTINGS insert_deduplicate=1`, c.db))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	now := time.Now().UTC()
	ver := uint64(now.UnixNano())
	inserted := 0
	for _, row := range rows {
		if !row.Closed {
			continue
		}
		if err := batch.Append(
			runID,
			row.TradeID,
			row.Security,
			row.Direction,
			row.EntryTime,
			int64(row.EntryTick),
			row.EntryPrice.InexactFloat64(),
			int64(row.UnitSize),
			row.LotSize.InexactFloat64(),
			row.EntryATR.InexactFloat64(),
			row.ExitTime,
			int64(row.ExitTick),
			row.ExitPrice.InexactFloat64(),
			row.ExitType,
			row.GrossProfit.InexactFloat64(),
			row.SlippageCost.InexactFloat64(),
			row.TransactionCost.InexactFloat64(),
			row.NetProfit.InexactFloat64(),
			row.ExitATR.InexactFloat64(),
			now,
			ver,
		); err != nil {
			return fmt.Errorf("batch append: %w", err)
		}
		inserted++
	}
	if inserted == 0 {
		return nil
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	return nil
}

// EnsureSeriesSchema creates the price-series table LoadSeries reads from.
// ReplacingMergeTree keyed by (security, time) makes re-ingestion idempotent.
func (c *Client) EnsureSeriesSchema(ctx context.Context, table string) error {
	if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", c.db)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			security LowCardinality(String),
			time DateTime64(3),
			price Float64,
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (security, time)
		SETTINGS index_granularity = 8192
	`, c.db, table)
	return c.conn.Exec(ctx, ddl)
}

// SaveSeries batch-inserts one security's price series. Rows that duplicate
// an earlier ingest collapse on merge via the version column.
func (c *Client) SaveSeries(ctx context.Context, table string, s marketdata.Series) error {
	batch, err := c.conn.PrepareBatch(ctx,
		fmt.Sprintf(`INSERT INTO %s.%s SETTINGS insert_deduplicate=1`, c.db, table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	ver := uint64(time.Now().UTC().UnixNano())
	for _, pt := range s.Points {
		if err := batch.Append(s.Name, pt.Time, pt.Price, ver); err != nil {
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if len(s.Points) == 0 {
		return nil
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	return nil
}

// LoadSeries queries one security's (time, price) series in a closed-open
// time range, ordered by time.
func (c *Client) LoadSeries(ctx context.Context, table, security string, from, to time.Time) (marketdata.Series, error) {
	query := fmt.Sprintf(`
		SELECT time, price
		FROM %s.%s FINAL
		WHERE security = ?
		  AND time >= ?
		  AND time < ?
		ORDER BY time
	`, c.db, table)
	rows, err := c.conn.Query(ctx, query, security, from, to)
	if err != nil {
		return marketdata.Series{}, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	s := marketdata.Series{Name: security}
	for rows.Next() {
		var (
			t     time.Time
			price float64
		)
		if err := rows.Scan(&t, &price); err != nil {
			return marketdata.Series{}, fmt.Errorf("scan series row: %w", err)
		}
		s.Points = append(s.Points, marketdata.Point{Time: t, Price: price})
	}
	if err := rows.Err(); err != nil {
		return marketdata.Series{}, fmt.Errorf("iterate series rows: %w", err)
	}
	return s, nil
}
