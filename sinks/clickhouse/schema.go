package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/ch-go"
)

const executionsDDL = `CREATE TABLE IF NOT EXISTS %s (
	id String,
	route_key String,
	home_mint String,
	legs UInt8,
	trade_size UInt64,
	expected_profit Int64,
	realized_profit Int64,
	balance_before UInt64,
	balance_after UInt64,
	state LowCardinality(String),
	aborted UInt8,
	abort_reason String,
	started_at DateTime64(3),
	finished_at DateTime64(3)
) ENGINE = ReplacingMergeTree
ORDER BY (started_at, id)`

const opportunitiesDDL = `CREATE TABLE IF NOT EXISTS %s (
	scanned_at DateTime64(3),
	route_key String,
	home_mint String,
	legs UInt8,
	trade_size UInt64,
	final_amount UInt64,
	total_cost UInt64,
	net_profit Int64,
	profit_bps UInt64,
	confidence Float64,
	divergence Float64,
	stale UInt8
) ENGINE = MergeTree
ORDER BY (scanned_at, route_key)`

// EnsureTables creates the sink tables when they do not exist.
func (w *Writer) EnsureTables(ctx context.Context) error {
	for _, ddl := range []string{
		fmt.Sprintf(executionsDDL, w.config.ExecutionsTable),
		fmt.Sprintf(opportunitiesDDL, w.config.OpportunitiesTable),
	} {
		if err := w.client.Do(ctx, ch.Query{Body: ddl}); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}
