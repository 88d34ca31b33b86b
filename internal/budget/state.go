package budget

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sukria/koan-sub002/internal/fsutil"
)

// StateFile is the persisted budget counters under the instance root
const StateFile = ".budget-state.json"

// State holds the consumption counters of both windows
type State struct {
	SessionWindowStart  time.Time `json:"session_window_start"`
	SessionConsumed     int64     `json:"session_consumed"`
	WeeklyWindowStart   time.Time `json:"weekly_window_start"`
	WeeklyConsumed      int64     `json:"weekly_consumed"`
	IterationsInSession int       `json:"iterations_in_session"`
	LastRecordedID      string    `json:"last_recorded_id,omitempty"`
}

func (s *State) normalize() {
	if s.SessionConsumed < 0 {
		s.SessionConsumed = 0
	}
	if s.WeeklyConsumed < 0 {
		s.WeeklyConsumed = 0
	}
	if s.IterationsInSession < 0 {
		s.IterationsInSession = 0
	}
}

// LoadState reads the persisted state. A missing file yields a zero state; a
// corrupt file yields a zero state together with the decode error so the
// caller can log it.
func LoadState(root string) (State, error) {
	var s State
	found, err := fsutil.ReadJSON(filepath.Join(root, StateFile), &s)
	if err != nil {
		return State{}, fmt.Errorf("reading budget state: %w", err)
	}
	if !found {
		return State{}, nil
	}
	s.normalize()
	return s, nil
}

// SaveState atomically rewrites the state file
func SaveState(root string, s State) error {
	s.normalize()
	if err := fsutil.WriteJSON(filepath.Join(root, StateFile), s); err != nil {
		return fmt.Errorf("writing budget state: %w", err)
	}
	return nil
}
