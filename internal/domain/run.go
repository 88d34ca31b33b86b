package domain

import "time"

// Iteration is one executed loop tick as recorded in the history ledger
type Iteration struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     *time.Time
	Action         Action
	Mode           Mode
	Project        string
	Mission        string
	AvailablePct   float64
	TokensInput    int64
	TokensOutput   int64
	QuotaExhausted bool
	Error          string
}

// Duration returns how long the iteration ran, or zero while unfinished
func (it *Iteration) Duration() time.Duration {
	if it.FinishedAt == nil {
		return 0
	}
	return it.FinishedAt.Sub(it.StartedAt)
}

// UsageTotals aggregates consumption over a period
type UsageTotals struct {
	Iterations   int
	TokensInput  int64
	TokensOutput int64
	QuotaPauses  int
	MissionsRun  int
	Errors       int
}
