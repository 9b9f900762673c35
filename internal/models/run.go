package models

import "time"

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRecord is one execution of the valuation batch
type RunRecord struct {
	RunID       string         `json:"runId" db:"run_id"`
	Status      string         `json:"status" db:"status"`
	StartedAt   time.Time      `json:"startedAt" db:"started_at"`
	CompletedAt *time.Time     `json:"completedAt,omitempty" db:"completed_at"`
	Periods     int            `json:"periods" db:"periods"`
	Error       *string        `json:"error,omitempty" db:"error"`
	Chains      []ChainOutcome `json:"chains"`
}

// ChainOutcome records whether a chain made it into a run's portfolio
type ChainOutcome struct {
	RunID       string `json:"-" db:"run_id"`
	Chain       string `json:"chain" db:"chain"`
	Included    bool   `json:"included" db:"included"`
	Reason      string `json:"reason,omitempty" db:"reason"`
	ErrorCode   string `json:"errorCode,omitempty" db:"error_code"`
	RowsDropped int    `json:"rowsDropped" db:"rows_dropped"`
	BalanceOnly int    `json:"balanceOnly" db:"balance_only"`
	PriceOnly   int    `json:"priceOnly" db:"price_only"`
}
