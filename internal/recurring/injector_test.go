package recurring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sukria/koan-sub002/internal/missions"
)

const recurringTOML = `
[[mission]]
name = "nightly-audit"
cron = "0 22 * * *"
text = "audit dependencies"
project = "koan"

[[mission]]
name = "weekly-docs"
cron = "0 9 * * 1"
text = "refresh the docs index"

[[mission]]
name = "disabled"
cron = "* * * * *"
text = "never"
enabled = false
`

func writeRecurring(t *testing.T, root, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, ConfigFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},
		{"0 12 * * 1-5", false},
		{"*/5 * * * *", false},
		{"0 0 22 * * *", true},
		{"invalid", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	root := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(root, ConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Missions) != 0 {
		t.Errorf("missing file should give empty config, got %d", len(cfg.Missions))
	}

	writeRecurring(t, root, recurringTOML)
	cfg, err = LoadConfig(filepath.Join(root, ConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Missions) != 3 {
		t.Fatalf("Missions = %d, want 3", len(cfg.Missions))
	}
	if !cfg.Missions[0].IsEnabled() || cfg.Missions[2].IsEnabled() {
		t.Error("enabled flags not honoured")
	}

	bad := []string{
		"[[mission]]\nname = \"x\"\ntext = \"t\"\n",
		"[[mission]]\nname = \"x\"\ncron = \"nope\"\ntext = \"t\"\n",
		"[[mission]]\nname = \"x\"\ncron = \"* * * * *\"\n",
		"[[mission]]\nname = \"x\"\ncron = \"* * * * *\"\ntext = \"a\"\n[[mission]]\nname = \"x\"\ncron = \"* * * * *\"\ntext = \"b\"\n",
	}
	for _, doc := range bad {
		writeRecurring(t, root, doc)
		if _, err := LoadConfig(filepath.Join(root, ConfigFile)); err == nil {
			t.Errorf("LoadConfig(%q) should fail", doc)
		}
	}
}

func TestInjectDue(t *testing.T) {
	root := t.TempDir()
	writeRecurring(t, root, recurringTOML)
	store := missions.NewStore(root, nil)
	inj := NewInjector(root, store, nil)

	// Wednesday 23:00: the 22:00 audit is due, Monday docs are older than the look-back
	now := time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC)
	injected, err := inj.InjectDue(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(injected) != 1 || injected[0] != "nightly-audit: audit dependencies" {
		t.Fatalf("injected = %q", injected)
	}

	text, _ := store.Load()
	m, ok := missions.PeekNext(text, "koan")
	if !ok || m.Owner != "koan" || !strings.Contains(m.Raw, "audit dependencies") {
		t.Errorf("queued mission = %+v", m)
	}

	// Same slot again: nothing new
	injected, err = inj.InjectDue(now.Add(10 * time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(injected) != 0 {
		t.Errorf("second run injected %q", injected)
	}

	// Next night, still pending: not duplicated
	injected, err = inj.InjectDue(now.Add(24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(injected) != 0 {
		t.Errorf("duplicate injected %q", injected)
	}
	text, _ = store.Load()
	if n := missions.CountPending(text); n != 1 {
		t.Errorf("CountPending = %d, want 1", n)
	}
}

func TestInjectDue_MissingConfig(t *testing.T) {
	root := t.TempDir()
	inj := NewInjector(root, missions.NewStore(root, nil), nil)

	injected, err := inj.InjectDue(time.Now())
	if err != nil || len(injected) != 0 {
		t.Errorf("InjectDue = %q, %v; want nothing", injected, err)
	}
}

func TestNextRuns(t *testing.T) {
	root := t.TempDir()
	writeRecurring(t, root, recurringTOML)
	inj := NewInjector(root, missions.NewStore(root, nil), nil)

	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	runs, err := inj.NextRuns(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	if runs[0].Name != "disabled" || runs[1].Name != "nightly-audit" || runs[2].Name != "weekly-docs" {
		t.Errorf("order = %s, %s, %s", runs[0].Name, runs[1].Name, runs[2].Name)
	}
	want := time.Date(2026, 3, 11, 22, 0, 0, 0, time.UTC)
	if !runs[1].Next.Equal(want) {
		t.Errorf("nightly next = %v, want %v", runs[1].Next, want)
	}
}

func TestInjector_DueWritesNothing(t *testing.T) {
	root := t.TempDir()
	writeRecurring(t, root, recurringTOML)
	now := time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC)

	inj := NewInjector(root, missions.NewStore(root, nil), nil)
	due, err := inj.Due(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].Name != "nightly-audit" {
		t.Errorf("Due = %+v, want only nightly-audit", due)
	}
	for _, name := range []string{StateFile, missions.FileName} {
		if _, err := os.Stat(filepath.Join(root, name)); !os.IsNotExist(err) {
			t.Errorf("%s written by Due", name)
		}
	}
}
