package domain

import "encoding/json"

// Decision is the single planned action for one loop tick
type Decision struct {
	Action            Action   `json:"action"`
	ProjectName       string   `json:"project_name"`
	ProjectPath       string   `json:"project_path"`
	Mission           string   `json:"mission"`
	MissionBody       string   `json:"mission_body,omitempty"`
	Mode              Mode     `json:"mode"`
	FocusArea         string   `json:"focus_area"`
	AvailablePct      float64  `json:"available_pct"`
	Reason            string   `json:"reason"`
	RecurringInjected []string `json:"recurring_injected"`
	FocusRemaining    string   `json:"focus_remaining,omitempty"`
	Error             string   `json:"error,omitempty"`
	KnownProjects     []string `json:"known_projects,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	Iteration         int      `json:"iteration"`
}

// JSON serializes the decision for external callers
func (d Decision) JSON() ([]byte, error) {
	if d.RecurringInjected == nil {
		d.RecurringInjected = []string{}
	}
	return json.MarshalIndent(d, "", "  ")
}
