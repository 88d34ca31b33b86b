package admission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sukria/koan-sub002/internal/fsutil"
)

// StopFile is the cooperative stop marker polled by the loop once per tick
const StopFile = ".stop"

// stopPollInterval is how often StopAll re-checks liveness
var stopPollInterval = 200 * time.Millisecond

// Liveness is the result of probing a role
type Liveness struct {
	Running bool
	Holder  Holder
	// Method is "lock" when the probe used the advisory lock, "pid" when it
	// fell back to signalling the recorded pid
	Method string
}

// CheckLiveness reports whether a process currently holds the role. The lock
// probe is authoritative; a signal-0 check on the recorded pid is used only
// when the marker cannot be locked at all.
func CheckLiveness(root, role string) (Liveness, error) {
	if err := validRole(role); err != nil {
		return Liveness{}, err
	}
	path := LockPath(root, role)
	holder, err := readMarker(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Liveness{Method: "lock"}, nil
		}
		return Liveness{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		err = flock(f, unix.LOCK_SH|unix.LOCK_NB)
		switch {
		case err == nil:
			_ = flock(f, unix.LOCK_UN)
			return Liveness{Holder: holder, Method: "lock"}, nil
		case errors.Is(err, unix.EWOULDBLOCK):
			return Liveness{Running: true, Holder: holder, Method: "lock"}, nil
		}
	}
	if errors.Is(err, os.ErrNotExist) {
		return Liveness{Method: "lock"}, nil
	}

	return Liveness{Running: pidAlive(holder.PID), Holder: holder, Method: "pid"}, nil
}

// pidAlive sends signal 0; EPERM still means the process exists
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// RequestStop raises the cooperative stop marker
func RequestStop(root string) error {
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	return fsutil.WriteFileAtomic(filepath.Join(root, StopFile), []byte(stamp))
}

// StopRequested reports whether the stop marker is present
func StopRequested(root string) bool {
	_, err := os.Stat(filepath.Join(root, StopFile))
	return err == nil
}

// ClearStop removes the stop marker
func ClearStop(root string) error {
	return fsutil.RemoveIfExists(filepath.Join(root, StopFile))
}

// StopOutcome is how a role ended up after StopAll
type StopOutcome string

const (
	StopNotRunning StopOutcome = "not_running"
	StopGraceful   StopOutcome = "graceful"
	StopKilled     StopOutcome = "killed"
	StopFailed     StopOutcome = "failed"
)

// StopResult is the per-role outcome of StopAll
type StopResult struct {
	Role    string
	PID     int
	Outcome StopOutcome
	Err     error
}

// StopAll asks every running role to stop, waits up to timeout for them to
// release their leases, then sends SIGKILL to the remaining holders. Results
// are in the order of roles.
func StopAll(ctx context.Context, root string, roles []string, timeout time.Duration) []StopResult {
	results := make([]StopResult, len(roles))
	pending := make(map[int]Holder)

	for i, role := range roles {
		results[i].Role = role
		live, err := CheckLiveness(root, role)
		switch {
		case err != nil:
			results[i].Outcome = StopFailed
			results[i].Err = err
		case !live.Running:
			results[i].Outcome = StopNotRunning
		default:
			results[i].PID = live.Holder.PID
			pending[i] = live.Holder
		}
	}
	if len(pending) == 0 {
		return results
	}

	if err := RequestStop(root); err != nil {
		for i := range pending {
			results[i].Outcome = StopFailed
			results[i].Err = fmt.Errorf("request stop: %w", err)
		}
		return results
	}

	waitForExit(ctx, root, roles, pending, timeout, func(i int) {
		results[i].Outcome = StopGraceful
	})
	if err := ctx.Err(); err != nil {
		for i := range pending {
			results[i].Outcome = StopFailed
			results[i].Err = err
		}
		return results
	}

	for i, holder := range pending {
		results[i].Outcome, results[i].Err = kill(holder.PID)
	}
	if len(pending) > 0 {
		// the kernel drops the locks once the processes are reaped
		waitForExit(ctx, root, roles, pending, 2*time.Second, func(int) {})
		for i := range pending {
			if results[i].Outcome == StopKilled {
				results[i].Outcome = StopFailed
				results[i].Err = fmt.Errorf("pid %d still holds %s after SIGKILL", results[i].PID, roles[i])
			}
		}
	}

	failed := false
	for _, r := range results {
		if r.Outcome == StopFailed {
			failed = true
		}
	}
	if !failed {
		_ = ClearStop(root)
	}
	return results
}

// waitForExit polls the pending roles until they stop, the timeout elapses or
// ctx is cancelled. Stopped roles are removed from pending and reported.
func waitForExit(ctx context.Context, root string, roles []string, pending map[int]Holder, timeout time.Duration, stopped func(int)) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		for i := range pending {
			live, err := CheckLiveness(root, roles[i])
			if err == nil && !live.Running {
				delete(pending, i)
				stopped(i)
			}
		}
		if len(pending) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

func kill(pid int) (StopOutcome, error) {
	if pid <= 0 {
		return StopFailed, errors.New("holder pid unknown")
	}
	if pid == os.Getpid() {
		return StopFailed, errors.New("refusing to kill the current process")
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return StopGraceful, nil
		}
		return StopFailed, fmt.Errorf("kill %d: %w", pid, err)
	}
	return StopKilled, nil
}
