package budget

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ReportFile is the assistant's last usage report, written by an external
// collaborator (a /usage capture)
const ReportFile = "usage.md"

var (
	// Session (5hr) : 45% (resets in 2h)
	sessionLineRegex = regexp.MustCompile(`(?i)session[^:\n]*:\s*(\d+(?:\.\d+)?)\s*%\s*(?:\(([^)\n]*)\))?`)
	// Weekly (7 day) : 60% (Resets Mon 9am)
	weeklyLineRegex = regexp.MustCompile(`(?i)week(?:ly)?[^:\n]*:\s*(\d+(?:\.\d+)?)\s*%\s*(?:\(([^)\n]*)\))?`)
)

// Report is the percent-used information the assistant last displayed
type Report struct {
	SessionPct   float64
	SessionReset string
	HasSession   bool
	WeeklyPct    float64
	WeeklyReset  string
	HasWeekly    bool
	CapturedAt   time.Time
}

// ParseReport extracts session and weekly percentages from usage report text.
// Lines that do not match are ignored.
func ParseReport(text string) Report {
	var r Report
	for _, line := range strings.Split(text, "\n") {
		if !r.HasSession {
			if m := sessionLineRegex.FindStringSubmatch(line); m != nil {
				r.SessionPct = parsePct(m[1])
				r.SessionReset = strings.TrimSpace(m[2])
				r.HasSession = true
				continue
			}
		}
		if !r.HasWeekly {
			if m := weeklyLineRegex.FindStringSubmatch(line); m != nil {
				r.WeeklyPct = parsePct(m[1])
				r.WeeklyReset = strings.TrimSpace(m[2])
				r.HasWeekly = true
			}
		}
	}
	return r
}

// LoadReport reads usage.md from the instance root. A missing file returns
// nil without error.
func LoadReport(root string) (*Report, error) {
	path := filepath.Join(root, ReportFile)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := ParseReport(string(data))
	if !r.HasSession && !r.HasWeekly {
		return nil, nil
	}
	r.CapturedAt = info.ModTime()
	return &r, nil
}

func parsePct(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return clampPct(v)
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
