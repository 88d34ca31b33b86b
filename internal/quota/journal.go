package quota

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Journal appends notes to journal/YYYY-MM-DD/<project>.md
type Journal struct {
	Root string
}

// Path returns the journal file for a project and day
func (j *Journal) Path(project string, day time.Time) string {
	return filepath.Join(j.Root, "journal", day.Format("2006-01-02"), journalName(project)+".md")
}

// Append adds one note. Existing content is never rewritten.
func (j *Journal) Append(project string, now time.Time, title, body string) error {
	path := j.Path(project, now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	note := fmt.Sprintf("\n## %s - %s\n\n%s\n", now.Format("15:04"), title, strings.TrimSpace(body))
	if _, err := f.WriteString(note); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	return nil
}

func journalName(project string) string {
	project = strings.TrimSpace(project)
	if project == "" {
		return "general"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator || r == 0 {
			return '_'
		}
		return r
	}, project)
}
