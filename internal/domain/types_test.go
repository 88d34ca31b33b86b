package domain

import (
	"strings"
	"testing"
	"time"
)

func TestMode_Rank(t *testing.T) {
	order := []Mode{ModeWait, ModeReview, ModeImplement, ModeDeep}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s.Rank() = %d, want > %s.Rank() = %d", order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
}

func TestMode_CostMultiplier(t *testing.T) {
	tests := []struct {
		mode Mode
		want float64
	}{
		{ModeReview, 0.5},
		{ModeImplement, 1.0},
		{ModeDeep, 2.0},
		{Mode("unknown"), 1.0},
	}

	for _, tt := range tests {
		if got := tt.mode.CostMultiplier(); got != tt.want {
			t.Errorf("%q.CostMultiplier() = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    Policy
		wantErr bool
	}{
		{"full", PolicyFull, false},
		{"", PolicyFull, false},
		{"SESSION_ONLY", PolicySessionOnly, false},
		{"session-only", PolicySessionOnly, false},
		{"disabled", PolicyDisabled, false},
		{"weekly", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindProject(t *testing.T) {
	projects := []Project{{Name: "koan", Path: "/src/koan"}, {Name: "Web", Path: "/src/web"}}

	p, ok := FindProject(projects, "web")
	if !ok || p.Path != "/src/web" {
		t.Errorf("FindProject(web) = %+v, %v", p, ok)
	}
	if _, ok := FindProject(projects, "missing"); ok {
		t.Error("FindProject(missing) should not match")
	}
}

func TestPauseRecord_Active(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	var nilRecord *PauseRecord
	if nilRecord.Active(now) {
		t.Error("nil pause record should be inactive")
	}

	p := &PauseRecord{Reason: PauseQuota, ResumeAt: now.Add(time.Minute)}
	if !p.Active(now) {
		t.Error("pause ending in the future should be active")
	}
	if p.Active(now.Add(time.Minute)) {
		t.Error("pause should be inactive once now reaches ResumeAt")
	}
}

func TestDecision_JSONEmptyRecurring(t *testing.T) {
	data, err := Decision{Action: ActionAutonomous, Mode: ModeImplement}.JSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"recurring_injected": []`) {
		t.Errorf("JSON() = %s, want an empty recurring_injected array", data)
	}
}
