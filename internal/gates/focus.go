// Package gates holds the two independent suppression gates consulted when no
// mission is queued: a time-boxed focus mode and the deep/work hours schedule.
package gates

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sukria/koan-sub002/internal/fsutil"
)

// FocusFile is the focus side-car under the instance root
const FocusFile = ".focus.json"

// FocusRecord is a time-boxed "missions only" period
type FocusRecord struct {
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason,omitempty"`
}

// FocusState is the gate reading at one instant
type FocusState struct {
	Active           bool
	Remaining        time.Duration
	RemainingDisplay string
	Reason           string
}

// FocusGate reads and writes the focus record
type FocusGate struct {
	Root string
}

func (g *FocusGate) path() string {
	return filepath.Join(g.Root, FocusFile)
}

// Start enters focus mode for d
func (g *FocusGate) Start(d time.Duration, reason string, now time.Time) (*FocusRecord, error) {
	if d <= 0 {
		return nil, fmt.Errorf("focus duration must be positive, got %s", d)
	}
	rec := &FocusRecord{StartedAt: now, ExpiresAt: now.Add(d), Reason: reason}
	if err := fsutil.WriteJSON(g.path(), rec); err != nil {
		return nil, fmt.Errorf("writing focus: %w", err)
	}
	return rec, nil
}

// Stop leaves focus mode
func (g *FocusGate) Stop() error {
	return fsutil.RemoveIfExists(g.path())
}

// State reports whether focus is active at now. An expired record reads as
// inactive.
func (g *FocusGate) State(now time.Time) (FocusState, error) {
	var rec FocusRecord
	found, err := fsutil.ReadJSON(g.path(), &rec)
	if err != nil {
		return FocusState{}, fmt.Errorf("reading focus: %w", err)
	}
	if !found || !now.Before(rec.ExpiresAt) {
		return FocusState{}, nil
	}
	remaining := rec.ExpiresAt.Sub(now)
	return FocusState{
		Active:           true,
		Remaining:        remaining,
		RemainingDisplay: FormatRemaining(remaining),
		Reason:           rec.Reason,
	}, nil
}

// FormatRemaining renders a countdown like "1h25m" or "40m"
func FormatRemaining(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	d = d.Round(time.Minute)
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}
