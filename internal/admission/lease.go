// Package admission keeps at most one live process per role for an instance
// root, using kernel advisory locks that die with their holder.
package admission

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// RunDir holds one lock marker per role under the instance root
const RunDir = "run"

// acquireAttempts bounds the retries when the marker is replaced between open
// and lock
const acquireAttempts = 5

// ErrRoleHeld is wrapped by HeldError
var ErrRoleHeld = errors.New("role already held")

// Holder identifies the process recorded in a lock marker
type Holder struct {
	PID int
	ID  string
}

// HeldError reports that another live process owns the role
type HeldError struct {
	Role   string
	Holder Holder
}

func (e *HeldError) Error() string {
	if e.Holder.PID > 0 {
		return fmt.Sprintf("%s: %v (pid %d)", e.Role, ErrRoleHeld, e.Holder.PID)
	}
	return fmt.Sprintf("%s: %v", e.Role, ErrRoleHeld)
}

func (e *HeldError) Unwrap() error {
	return ErrRoleHeld
}

// Lease is an exclusive hold on a role. The lock is released by Release or
// by the kernel when the process exits.
type Lease struct {
	Role string
	Path string
	ID   string

	mu sync.Mutex
	f  *os.File
}

// LockPath returns the marker path of a role
func LockPath(root, role string) string {
	return filepath.Join(root, RunDir, role+".lock")
}

func validRole(role string) error {
	if role == "" || strings.ContainsAny(role, `/\`) || role == "." || role == ".." {
		return fmt.Errorf("invalid role name %q", role)
	}
	return nil
}

// Acquire takes the role's lease or returns a *HeldError naming the live
// holder. It never blocks.
func Acquire(root, role string) (*Lease, error) {
	if err := validRole(role); err != nil {
		return nil, err
	}
	path := LockPath(root, role)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
		}

		if err := flock(f, unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				holder, _ := readMarker(path)
				return nil, &HeldError{Role: role, Holder: holder}
			}
			return nil, fmt.Errorf("lock %s: %w", filepath.Base(path), err)
		}

		// A previous holder may have removed the marker after our open; the
		// lock then guards an orphaned inode.
		same, err := sameFile(f, path)
		if err != nil || !same {
			_ = flock(f, unix.LOCK_UN)
			f.Close()
			continue
		}

		lease := &Lease{Role: role, Path: path, ID: uuid.NewString(), f: f}
		if err := lease.writeMarker(); err != nil {
			_ = lease.Release()
			return nil, err
		}
		return lease, nil
	}
	return nil, fmt.Errorf("lock %s: marker kept changing", filepath.Base(path))
}

func (l *Lease) writeMarker() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate marker: %w", err)
	}
	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), l.ID)
	if _, err := l.f.WriteAt([]byte(content), 0); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return l.f.Sync()
}

// Release removes the marker and drops the lock. Calling it again is a no-op.
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}

	var errs []error
	if same, _ := sameFile(l.f, l.Path); same {
		if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove marker: %w", err))
		}
	}
	if err := flock(l.f, unix.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.f.Close(); err != nil {
		errs = append(errs, err)
	}
	l.f = nil
	return errors.Join(errs...)
}

// Held reports whether Release has not been called yet
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f != nil
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

func sameFile(f *os.File, path string) (bool, error) {
	var open, named unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &open); err != nil {
		return false, err
	}
	if err := unix.Stat(path, &named); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, err
	}
	return open.Dev == named.Dev && open.Ino == named.Ino, nil
}

// readMarker parses "pid\nholder-id\n". Missing lines leave zero values.
func readMarker(path string) (Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) > 0 {
		h.PID, _ = strconv.Atoi(strings.TrimSpace(lines[0]))
	}
	if len(lines) > 1 {
		h.ID = strings.TrimSpace(lines[1])
	}
	return h, nil
}
