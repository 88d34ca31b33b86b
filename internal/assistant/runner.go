package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// sessionNamespace is a fixed UUID namespace so the same mission always maps to
// the same assistant session id
var sessionNamespace = uuid.MustParse("9b4f2e7a-3c1d-5e8f-a6b2-7d0c4e1f3a95")

// Request is one assistant invocation
type Request struct {
	Prompt     string
	Dir        string
	SessionKey string // mission text or project name; empty means a fresh session
}

// Runner invokes the external assistant
type Runner interface {
	Run(ctx context.Context, req Request) (Output, error)
}

// ExecRunner runs a configured command line with the prompt on stdin
type ExecRunner struct {
	Command []string
	Timeout time.Duration
}

// SessionIDFor derives a deterministic session id from a key
func SessionIDFor(key string) string {
	if key == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(sessionNamespace, []byte(key)).String()
}

// Run executes the command and parses its output. A non-zero exit still
// returns the parsed output so quota markers on stdout/stderr are visible.
func (r *ExecRunner) Run(ctx context.Context, req Request) (Output, error) {
	if len(r.Command) == 0 {
		return Output{}, errors.New("assistant command is not configured")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Dir = req.Dir
	cmd.Stdin = bytes.NewBufferString(req.Prompt)
	cmd.Env = append(os.Environ(), "KOAN_SESSION_ID="+SessionIDFor(req.SessionKey))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := ParseOutput(stdout.Bytes())
	out.Stderr = stderr.String()

	if runErr != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("running %s: %w", r.Command[0], ctx.Err())
		}
		return out, fmt.Errorf("running %s: %w", r.Command[0], runErr)
	}
	return out, nil
}
