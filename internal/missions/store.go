package missions

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sukria/koan-sub002/internal/fsutil"
)

const (
	// FileName is the queue document under the instance root
	FileName = "missions.md"
	lockName = ".missions.lock"
)

// Store reads and rewrites missions.md under an instance root
type Store struct {
	Root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a store for root
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{Root: root, logger: logger.With("component", "missions")}
}

// Path returns the document path
func (s *Store) Path() string {
	return filepath.Join(s.Root, FileName)
}

// Load returns the document text. A missing file is an empty queue.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", FileName, err)
	}
	return string(data), nil
}

// Save atomically replaces the document
func (s *Store) Save(text string) error {
	if err := fsutil.WriteFileAtomic(s.Path(), []byte(text)); err != nil {
		return fmt.Errorf("writing %s: %w", FileName, err)
	}
	return nil
}

// Update runs a locked read-modify-write cycle. fn returning the unchanged
// text skips the write.
func (s *Store) Update(fn func(text string) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fsutil.WithFileLock(filepath.Join(s.Root, lockName), func() error {
		text, err := s.Load()
		if err != nil {
			return err
		}
		updated, err := fn(text)
		if err != nil {
			return err
		}
		if updated == text {
			return nil
		}
		return s.Save(updated)
	})
}

// Document loads and parses the queue; unreadable files yield an empty
// document and the read error
func (s *Store) Document() (*Document, error) {
	text, err := s.Load()
	if err != nil {
		s.log().Warn("missions unreadable, treating queue as empty", "error", err)
		return Parse(""), err
	}
	return Parse(text), nil
}

// Enqueue appends a pending mission
func (s *Store) Enqueue(entry, project string) error {
	err := s.Update(func(text string) (string, error) {
		return Enqueue(text, entry, project)
	})
	if err == nil {
		s.log().Info("mission enqueued", "mission", firstLine(entry), "project", project)
	}
	return err
}

// PeekNext returns the next runnable pending mission, preferring a project
// other than lastProject
func (s *Store) PeekNext(filter, lastProject string) (Mission, bool, error) {
	text, err := s.Load()
	if err != nil {
		return Mission{}, false, err
	}
	m, ok := PeekNextRotating(text, filter, lastProject)
	return m, ok, nil
}

// MarkInProgress moves a mission from pending to in progress
func (s *Store) MarkInProgress(mission string) error {
	return s.Update(func(text string) (string, error) {
		return MarkInProgress(text, mission)
	})
}

// MarkDone moves a mission to done
func (s *Store) MarkDone(mission string) error {
	return s.Update(func(text string) (string, error) {
		return MarkDone(text, mission)
	})
}

// Requeue moves an interrupted mission back to pending
func (s *Store) Requeue(mission string) error {
	return s.Update(func(text string) (string, error) {
		return Requeue(text, mission)
	})
}

// Sanitize cleans the document in place
func (s *Store) Sanitize(extraSections []string) (SanitizeReport, error) {
	var report SanitizeReport
	err := s.Update(func(text string) (string, error) {
		if text == "" {
			return text, nil
		}
		var cleaned string
		cleaned, report = Sanitize(text, extraSections)
		return cleaned, nil
	})
	if err == nil && report.Changed() {
		s.log().Info("missions sanitized", "dropped", report.Dropped, "merged", report.Merged)
	}
	return report, err
}

func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default().With("component", "missions")
	}
	return s.logger
}
