package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/celebrum-pricesync/internal/models"
)

// priceColumns is the parameter count of one row in an upsert statement.
const priceColumns = 9

// maxRowsPerUpsert keeps a statement well under the 65535 parameter limit.
const maxRowsPerUpsert = 500

const listPriceDatesSQL = `SELECT trade_date FROM daily_prices WHERE symbol = $1 AND trade_date BETWEEN $2 AND $3 ORDER BY trade_date`

// PriceRepository stores daily bars keyed by (symbol, trade_date).
type PriceRepository struct {
	pool DatabasePool
}

func NewPriceRepository(pool DatabasePool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

// UpsertPrices writes bars for symbol, replacing any existing row for the
// same trading day. It returns the number of rows written.
func (r *PriceRepository) UpsertPrices(ctx context.Context, symbol, source string, bars []models.PriceBar) (int64, error) {
	bars = dedupeByDay(bars)
	var total int64

	for start := 0; start < len(bars); start += maxRowsPerUpsert {
		chunk := bars[start:min(start+maxRowsPerUpsert, len(bars))]

		args := make([]interface{}, 0, len(chunk)*priceColumns)
		for _, b := range chunk {
			args = append(args,
				symbol,
				models.TradingDay(b.Date),
				b.Open,
				b.High,
				b.Low,
				b.Close,
				b.AdjustedClose,
				b.Volume,
				source,
			)
		}

		tag, err := r.pool.Exec(ctx, buildUpsertPricesSQL(len(chunk)), args...)
		if err != nil {
			return total, fmt.Errorf("failed to upsert prices for %s: %w", symbol, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// ListDates returns stored trading days for symbol within [from, to], ascending.
func (r *PriceRepository) ListDates(ctx context.Context, symbol string, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, listPriceDatesSQL, symbol, models.TradingDay(from), models.TradingDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list price dates for %s: %w", symbol, err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan price date: %w", err)
		}
		dates = append(dates, models.TradingDay(d))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price dates: %w", err)
	}
	return dates, nil
}

// buildUpsertPricesSQL renders a multi-row upsert for n bars.
func buildUpsertPricesSQL(n int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO daily_prices (symbol, trade_date, open, high, low, close, adjusted_close, volume, source, updated_at) VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 1; c <= priceColumns; c++ {
			fmt.Fprintf(&b, "$%d, ", i*priceColumns+c)
		}
		b.WriteString("now())")
	}
	b.WriteString(" ON CONFLICT (symbol, trade_date) DO UPDATE SET" +
		" open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close," +
		" adjusted_close = EXCLUDED.adjusted_close, volume = EXCLUDED.volume," +
		" source = EXCLUDED.source, updated_at = now()")
	return b.String()
}

// dedupeByDay keeps the last bar per trading day. Postgres rejects an upsert
// that touches the same key twice.
func dedupeByDay(bars []models.PriceBar) []models.PriceBar {
	index := make(map[time.Time]int, len(bars))
	out := make([]models.PriceBar, 0, len(bars))
	for _, b := range bars {
		day := models.TradingDay(b.Date)
		if i, ok := index[day]; ok {
			out[i] = b
			continue
		}
		index[day] = len(out)
		out = append(out, b)
	}
	return out
}
