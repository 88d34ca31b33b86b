package quota

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sukria/koan-sub002/internal/domain"
	"github.com/sukria/koan-sub002/internal/fsutil"
)

// PauseFile is the pause side-car under the instance root
const PauseFile = ".pause.json"

// PauseStore persists the single PauseRecord of an instance
type PauseStore struct {
	Root         string
	DefaultDelay time.Duration
}

func (s *PauseStore) path() string {
	return filepath.Join(s.Root, PauseFile)
}

func (s *PauseStore) delay() time.Duration {
	if s.DefaultDelay <= 0 {
		return DefaultResumeDelay
	}
	return s.DefaultDelay
}

// Read returns the current pause, or nil when none is recorded
func (s *PauseStore) Read() (*domain.PauseRecord, error) {
	var rec domain.PauseRecord
	found, err := fsutil.ReadJSON(s.path(), &rec)
	if err != nil {
		return nil, fmt.Errorf("reading pause: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// Pause records a pause. A resumeAt that is not after now is replaced by
// now + the default delay.
func (s *PauseStore) Pause(reason string, resumeAt time.Time, hint string, now time.Time) (*domain.PauseRecord, error) {
	if !resumeAt.After(now) {
		resumeAt = now.Add(s.delay())
	}
	rec := &domain.PauseRecord{
		Reason:      reason,
		ResumeAt:    resumeAt,
		DisplayHint: hint,
		CreatedAt:   now,
	}
	if err := fsutil.WriteJSON(s.path(), rec); err != nil {
		return rec, fmt.Errorf("writing pause: %w", err)
	}
	return rec, nil
}

// Clear removes the pause record
func (s *PauseStore) Clear() error {
	return fsutil.RemoveIfExists(s.path())
}

// CheckResume clears an expired pause. It returns the recorded pause (if any)
// and whether it was just cleared. A corrupt record is cleared as well.
func (s *PauseStore) CheckResume(now time.Time) (*domain.PauseRecord, bool, error) {
	rec, err := s.Read()
	if err != nil {
		if clearErr := s.Clear(); clearErr != nil {
			return nil, false, clearErr
		}
		return nil, true, err
	}
	if rec == nil {
		return nil, false, nil
	}
	if rec.Active(now) {
		return rec, false, nil
	}
	if err := s.Clear(); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}
