package domain

import "time"

// Pause reasons
const (
	PauseQuota   = "quota"
	PauseManual  = "manual"
	PauseMaxRuns = "max_runs"
)

// PauseRecord suspends the loop until ResumeAt
type PauseRecord struct {
	Reason      string    `json:"reason"`
	ResumeAt    time.Time `json:"resume_at"`
	DisplayHint string    `json:"display_hint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Active returns true while now is before ResumeAt
func (p *PauseRecord) Active(now time.Time) bool {
	if p == nil {
		return false
	}
	return now.Before(p.ResumeAt)
}
