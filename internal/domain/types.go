package domain

import (
	"fmt"
	"strings"
)

// Mode is the operating depth permitted for the next iteration
type Mode string

const (
	ModeDeep      Mode = "deep"
	ModeImplement Mode = "implement"
	ModeReview    Mode = "review"
	ModeWait      Mode = "wait"
)

// Rank orders modes deep > implement > review > wait
func (m Mode) Rank() int {
	switch m {
	case ModeDeep:
		return 3
	case ModeImplement:
		return 2
	case ModeReview:
		return 1
	default:
		return 0
	}
}

// Lower returns the next cheaper mode
func (m Mode) Lower() Mode {
	switch m {
	case ModeDeep:
		return ModeImplement
	case ModeImplement:
		return ModeReview
	default:
		return ModeWait
	}
}

// CostMultiplier scales the estimated iteration cost for a mode
func (m Mode) CostMultiplier() float64 {
	switch m {
	case ModeReview:
		return 0.5
	case ModeDeep:
		return 2.0
	default:
		return 1.0
	}
}

// Policy selects which budget windows gate mode decisions
type Policy string

const (
	PolicyFull        Policy = "full"
	PolicySessionOnly Policy = "session_only"
	PolicyDisabled    Policy = "disabled"
)

// ParsePolicy converts a config string to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyFull, "":
		return PolicyFull, nil
	case PolicySessionOnly, "session-only", "session":
		return PolicySessionOnly, nil
	case PolicyDisabled, "off", "none":
		return PolicyDisabled, nil
	}
	return "", fmt.Errorf("unknown budget policy %q (expected full, session_only or disabled)", s)
}

// Action is what the control loop should do this tick
type Action string

const (
	ActionMission       Action = "mission"
	ActionAutonomous    Action = "autonomous"
	ActionContemplative Action = "contemplative"
	ActionFocusWait     Action = "focus_wait"
	ActionScheduleWait  Action = "schedule_wait"
	ActionWaitPause     Action = "wait_pause"
	ActionError         Action = "error"
)

// IsWait returns true for actions the loop turns into a sleep
func (a Action) IsWait() bool {
	return a == ActionFocusWait || a == ActionScheduleWait || a == ActionWaitPause
}

// MissionState is the lifecycle state of a queued mission
type MissionState string

const (
	MissionPending    MissionState = "pending"
	MissionInProgress MissionState = "in_progress"
	MissionDone       MissionState = "done"
)
