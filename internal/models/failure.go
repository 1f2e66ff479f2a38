package models

import "time"

// FailureRecord tracks consecutive failed sync attempts for one symbol.
type FailureRecord struct {
	Symbol              string    `json:"symbol" db:"symbol"`
	ConsecutiveFailures int       `json:"consecutive_failures" db:"consecutive_failures"`
	LastAttemptAt       time.Time `json:"last_attempt_at" db:"last_attempt_at"`
	LastError           string    `json:"last_error,omitempty" db:"last_error"`
}

// Exhausted reports whether the record has used up a retry budget.
func (f FailureRecord) Exhausted(maxRetries int) bool {
	return maxRetries > 0 && f.ConsecutiveFailures >= maxRetries
}
