package observer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestObserver_DetectStuck(t *testing.T) {
	obs := New(5 * time.Minute)
	now := time.Now()

	if !obs.IsStuck(now.Add(-10*time.Minute), now) {
		t.Error("Iteration running for 10 minutes should be detected as stuck")
	}
	if obs.IsStuck(now.Add(-2*time.Minute), now) {
		t.Error("Iteration running for 2 minutes should not be stuck")
	}
	if obs.IsStuck(time.Time{}, now) {
		t.Error("Unstarted iteration should not be stuck")
	}
}

func TestObserver_Metrics(t *testing.T) {
	obs := New(5 * time.Minute)

	obs.RecordCompletion("koan", 5*time.Minute, 1000, 500, false)
	obs.RecordCompletion("billing", 10*time.Minute, 2000, 1000, true)

	metrics := obs.GetMetrics()

	if metrics.TotalCompleted != 1 || metrics.TotalFailed != 1 {
		t.Errorf("completed/failed = %d/%d, want 1/1", metrics.TotalCompleted, metrics.TotalFailed)
	}
	if metrics.TotalTokensInput != 3000 {
		t.Errorf("TotalTokensInput = %d, want 3000", metrics.TotalTokensInput)
	}
	if metrics.AvgDuration != 7*time.Minute+30*time.Second {
		t.Errorf("AvgDuration = %v, want 7m30s", metrics.AvgDuration)
	}
}

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := NewWatcher(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestWatcher_WakesOnMissionsEdit(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(filepath.Join(root, "missions.md"), []byte("# Missions\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-w.Wake():
	case <-time.After(3 * time.Second):
		t.Fatal("no wake after editing missions.md")
	}
	if got := w.LastChanged(); len(got) != 1 || got[0] != "missions.md" {
		t.Errorf("LastChanged = %v", got)
	}

	select {
	case <-w.Wake():
		t.Error("burst should produce a single wake")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_SeesAtomicReplace(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	tmp := filepath.Join(root, ".stop.tmp")
	if err := os.WriteFile(tmp, []byte("now\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(root, ".stop")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.Wake():
	case <-time.After(3 * time.Second):
		t.Fatal("no wake after the stop marker appeared")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.Wake():
		t.Error("unrelated file should not wake the loop")
	case <-time.After(300 * time.Millisecond):
	}
}
