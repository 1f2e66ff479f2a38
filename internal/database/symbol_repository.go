package database

import (
	"context"
	"fmt"

	"github.com/irfndi/celebrum-pricesync/internal/models"
)

const listActiveSymbolsSQL = `SELECT code FROM symbols WHERE is_active = true ORDER BY code`

// SymbolRepository reads the reference table that defines the sync universe.
type SymbolRepository struct {
	pool DatabasePool
}

func NewSymbolRepository(pool DatabasePool) *SymbolRepository {
	return &SymbolRepository{pool: pool}
}

// ListActive returns normalized codes of active symbols.
func (r *SymbolRepository) ListActive(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listActiveSymbolsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list active symbols: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		if code = models.NormalizeSymbol(code); code != "" {
			codes = append(codes, code)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate symbols: %w", err)
	}
	return codes, nil
}
