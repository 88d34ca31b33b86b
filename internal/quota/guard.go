package quota

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sukria/koan-sub002/internal/domain"
)

// ExhaustionContext is what the loop knows about the iteration that ended
type ExhaustionContext struct {
	Project   string
	Iteration int
	Output    string
	Stderr    string
}

// Exhaustion describes a recorded quota pause
type Exhaustion struct {
	Hint          string
	DisplayReset  string
	ResumeMessage string
	ResumeAt      time.Time
}

// Guard turns exhaustion markers into a quota pause and a journal note
type Guard struct {
	Pauses  *PauseStore
	Journal *Journal
	now     func() time.Time
	logger  *slog.Logger
}

// NewGuard creates a guard for an instance root
func NewGuard(root string, defaultDelay time.Duration, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		Pauses:  &PauseStore{Root: root, DefaultDelay: defaultDelay},
		Journal: &Journal{Root: root},
		now:     time.Now,
		logger:  logger.With("component", "quota"),
	}
}

// SetClock replaces the time source
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// OnExhaustion checks the iteration output for exhaustion markers. When one is
// found it records a quota pause and a journal note and returns the pause
// details. Persistence failures are logged; the returned resume time is still
// valid for the caller to sleep on.
func (g *Guard) OnExhaustion(ec ExhaustionContext) (*Exhaustion, bool) {
	if !Detect(ec.Output, ec.Stderr) {
		return nil, false
	}

	now := g.now()
	hint := ExtractResetHint(ec.Output, ec.Stderr)
	resumeAt, display := ComputeResumeTimestamp(hint, now, g.Pauses.delay())

	displayReset := hint
	if displayReset == "" {
		displayReset = "resets " + display
	}
	ex := &Exhaustion{
		Hint:          hint,
		DisplayReset:  displayReset,
		ResumeAt:      resumeAt,
		ResumeMessage: resumeMessage(hint, display),
	}

	if _, err := g.Pauses.Pause(domain.PauseQuota, resumeAt, displayReset, now); err != nil {
		g.logger.Warn("could not record quota pause", "error", err)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "- project: %s\n", orNone(ec.Project))
	fmt.Fprintf(&body, "- iteration: %d\n", ec.Iteration)
	fmt.Fprintf(&body, "- reset hint: %s\n", orNone(hint))
	fmt.Fprintf(&body, "- %s\n", ex.ResumeMessage)
	if err := g.Journal.Append(ec.Project, now, "Quota exhausted", body.String()); err != nil {
		g.logger.Warn("could not write journal note", "error", err)
	}

	g.logger.Info("quota exhausted, pausing",
		"project", ec.Project,
		"iteration", ec.Iteration,
		"hint", hint,
		"resume_at", resumeAt)
	return ex, true
}

// resumeMessage quotes the assistant's own reset wording next to the computed
// local time
func resumeMessage(hint, display string) string {
	if hint == "" {
		return "Quota exhausted, resuming at " + display
	}
	return fmt.Sprintf("Quota exhausted (%s), resuming at %s", hint, display)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
