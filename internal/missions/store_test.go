package missions

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestStore_MissingFileIsEmptyQueue(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	text, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if text != "" {
		t.Errorf("Load() = %q, want empty", text)
	}
	if _, ok, err := s.PeekNext("", ""); ok || err != nil {
		t.Errorf("PeekNext on missing file = %v, %v", ok, err)
	}
}

func TestStore_Lifecycle(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	if err := s.Enqueue("first", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue("second", "koan"); err != nil {
		t.Fatal(err)
	}

	m, ok, err := s.PeekNext("", "")
	if err != nil || !ok {
		t.Fatalf("PeekNext = %v, %v", ok, err)
	}
	if m.Raw != "- first" {
		t.Errorf("next = %q, want - first", m.Raw)
	}

	if err := s.MarkInProgress(m.Raw); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDone(m.Raw); err != nil {
		t.Fatal(err)
	}

	text, _ := s.Load()
	if CountPending(text) != 1 {
		t.Errorf("CountPending = %d, want 1", CountPending(text))
	}
	doc, err := s.Document()
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Missions("done"); len(got) != 1 || got[0].Raw != "- first" {
		t.Errorf("done = %+v", got)
	}
}

func TestStore_ConcurrentEnqueue(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Enqueue("task "+string(rune('a'+i)), ""); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	text, _ := s.Load()
	if n := CountPending(text); n != 10 {
		t.Errorf("CountPending = %d, want 10", n)
	}
}

func TestStore_SanitizeInPlace(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)
	dirty := "# Missions\n\n## Pending\n\n- keep me\n\n## Junk\n\nbye\n"
	if err := os.WriteFile(filepath.Join(root, FileName), []byte(dirty), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := s.Sanitize([]string{"Ideas"})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Dropped) != 1 {
		t.Errorf("Dropped = %q, want [Junk]", report.Dropped)
	}
	text, _ := s.Load()
	if m, ok := PeekNext(text, ""); !ok || m.Raw != "- keep me" {
		t.Errorf("mission lost after sanitize:\n%s", text)
	}
}

func TestStore_Requeue(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	if err := s.Enqueue("interrupted work", "koan"); err != nil {
		t.Fatal(err)
	}
	m, ok, err := s.PeekNext("", "")
	if err != nil || !ok {
		t.Fatalf("PeekNext = %v, %v", ok, err)
	}
	if err := s.MarkInProgress(m.Text()); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.PeekNext("", ""); ok {
		t.Fatal("in-progress mission should not be peeked")
	}

	if err := s.Requeue(m.Text()); err != nil {
		t.Fatal(err)
	}
	again, ok, err := s.PeekNext("", "")
	if err != nil || !ok {
		t.Fatalf("PeekNext after Requeue = %v, %v", ok, err)
	}
	if again.Text() != m.Text() || again.Owner != "koan" {
		t.Errorf("requeued = %+v, want %+v", again, m)
	}

	if err := s.Requeue("never queued"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Requeue(unknown) = %v, want ErrNotFound", err)
	}
}
