package models

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.Und)

// Symbol is an exchange-listed security in the sync universe.
type Symbol struct {
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	Exchange  string    `json:"exchange" db:"exchange"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeSymbol trims and upper-cases a ticker so lookups are stable
// regardless of how the reference table or operators spelled it.
func NormalizeSymbol(code string) string {
	return upper.String(strings.TrimSpace(code))
}
