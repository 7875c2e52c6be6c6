package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

// DuckDB loads candle tables from a duckdb file into memory and serves
// queries from there. One table per symbol, named <symbol>_candles with
// columns ts, open, high, low, close, volume.
type DuckDB struct {
	dataSourceName string
	db             *sql.DB

	*Memory
}

func NewDuckDB(dataSourceName string) *DuckDB {
	return &DuckDB{
		dataSourceName: dataSourceName,
		Memory:         NewMemory(),
	}
}

func (d *DuckDB) Connect() error {
	db, err := sql.Open("duckdb", d.dataSourceName)
	if err != nil {
		return fmt.Errorf("sql.Open: %w", err)
	}
	d.db = db
	return nil
}

func (d *DuckDB) Close() {
	_ = d.db.Close()
}

// LoadCandles streams one symbol's candles between from and to into the
// in-memory series.
func (d *DuckDB) LoadCandles(ctx context.Context, symbol string, from, to time.Time) error {

	query := fmt.Sprintf(`SELECT ts, open, high, low, close, volume FROM "%s_candles" WHERE ts BETWEEN ? AND ? ORDER BY ts`, symbol)

	rows, err := d.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return fmt.Errorf("error preparing query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			panic(err)
		}
	}(rows)

	var candles []common.Candle
	for rows.Next() {
		var (
			ts                             time.Time
			open, high, low, close, volume float64
		)
		if err := rows.Scan(&ts, &open, &high, &low, &close, &volume); err != nil {
			return fmt.Errorf("error scanning row: %w", err)
		}
		candles = append(candles, common.Candle{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      fixed.FromFloat64(open),
			High:      fixed.FromFloat64(high),
			Low:       fixed.FromFloat64(low),
			Close:     fixed.FromFloat64(close),
			Volume:    fixed.FromFloat64(volume),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error scanning rows: %w", err)
	}

	d.Add(candles...)
	return nil
}
