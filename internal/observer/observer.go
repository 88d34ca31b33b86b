// Package observer watches a running instance: it wakes the loop when operator
// files change and keeps in-memory metrics about the iterations it ran.
package observer

import (
	"sync"
	"time"
)

// Observer collects per-process iteration metrics
type Observer struct {
	stuckThreshold time.Duration

	completions []completion
	mu          sync.RWMutex
}

type completion struct {
	Project      string
	Duration     time.Duration
	TokensInput  int64
	TokensOutput int64
	Failed       bool
	CompletedAt  time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	TotalCompleted    int
	TotalFailed       int
	TotalTokensInput  int64
	TotalTokensOutput int64
	AvgDuration       time.Duration
}

// New creates a new Observer
func New(stuckThreshold time.Duration) *Observer {
	return &Observer{
		stuckThreshold: stuckThreshold,
	}
}

// IsStuck returns true if an iteration started at startedAt has run longer
// than the threshold
func (o *Observer) IsStuck(startedAt, now time.Time) bool {
	if startedAt.IsZero() || o.stuckThreshold <= 0 {
		return false
	}
	return now.Sub(startedAt) > o.stuckThreshold
}

// RecordCompletion records a finished iteration
func (o *Observer) RecordCompletion(project string, duration time.Duration, tokensIn, tokensOut int64, failed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.completions = append(o.completions, completion{
		Project:      project,
		Duration:     duration,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
		Failed:       failed,
		CompletedAt:  time.Now(),
	})
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var metrics Metrics
	var totalDuration time.Duration

	for _, c := range o.completions {
		if c.Failed {
			metrics.TotalFailed++
		} else {
			metrics.TotalCompleted++
		}
		metrics.TotalTokensInput += c.TokensInput
		metrics.TotalTokensOutput += c.TokensOutput
		totalDuration += c.Duration
	}

	if n := len(o.completions); n > 0 {
		metrics.AvgDuration = totalDuration / time.Duration(n)
	}

	return metrics
}
