package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pverhoef/dbvault/internal/builder"
	"github.com/pverhoef/dbvault/internal/core/domain"
)

// ErrUnknownHandle is returned for handle ids the runner is not tracking.
var ErrUnknownHandle = errors.New("unknown process handle")

// Handle tracks one spawned process from start to reaped exit.
type Handle struct {
	ID      string
	Command builder.Command
	PID     int

	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	done   chan struct{}

	mu       sync.Mutex
	waitErr  error
	exitCode int
	reaped   bool
}

// ExitCode returns the process exit code. Only valid after Wait.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Stderr returns captured stderr output, bounded by the capture buffer.
func (h *Handle) Stderr() string {
	return h.stderr.String()
}

// Stdout returns captured stdout output. Empty when the process was
// started in streaming mode.
func (h *Handle) Stdout() string {
	return h.stdout.String()
}

// Done is closed when the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Runner spawns and supervises subprocesses. It holds no references to
// persistent state; recording process outcomes is the caller's concern.
type Runner struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func New() *Runner {
	return &Runner{handles: make(map[string]*Handle)}
}

// Start spawns a command with stdout captured to a buffer.
func (r *Runner) Start(command builder.Command, env []string) (*Handle, error) {
	return r.start(command, env, nil, nil)
}

// StartStreaming spawns a command with stdout streamed to w. Stderr is
// captured to a buffer in both modes for failure reporting.
func (r *Runner) StartStreaming(command builder.Command, env []string, w io.Writer) (*Handle, error) {
	if w == nil {
		return nil, errors.New("streaming start requires a writer")
	}
	return r.start(command, env, w, nil)
}

// StartWithInput spawns a command fed from in on stdin.
func (r *Runner) StartWithInput(command builder.Command, env []string, in io.Reader) (*Handle, error) {
	if in == nil {
		return nil, errors.New("input start requires a reader")
	}
	return r.start(command, env, nil, in)
}

func (r *Runner) start(command builder.Command, env []string, stdout io.Writer, stdin io.Reader) (*Handle, error) {
	if len(command.Argv) == 0 {
		return nil, errors.New("empty command")
	}

	h := &Handle{
		ID:      uuid.New().String(),
		Command: command,
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
		done:    make(chan struct{}),
	}

	cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
	if len(env) > 0 {
		cmd.Env = env
	}
	cmd.Stderr = h.stderr
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = h.stdout
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}
	// Own process group so Terminate reaches the whole pipeline
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command.Argv[0], err)
	}

	h.cmd = cmd
	h.PID = cmd.Process.Pid

	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.exitCode = cmd.ProcessState.ExitCode()
		h.reaped = true
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

// Wait blocks until the process exits or ctx is done. On exit it checks
// the code against the command's allowed set and returns ProcessFailure
// for anything outside it. A ctx expiry terminates the process before
// returning ctx.Err().
func (r *Runner) Wait(ctx context.Context, h *Handle) error {
	select {
	case <-h.done:
	case <-ctx.Done():
		// Best effort kill; the reaper goroutine still collects the exit
		_ = r.Terminate(h, 5*time.Second)
		<-h.done
		r.forget(h.ID)
		return ctx.Err()
	}

	r.forget(h.ID)

	h.mu.Lock()
	code := h.exitCode
	waitErr := h.waitErr
	h.mu.Unlock()

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return fmt.Errorf("wait failed for %s: %w", h.Command.Argv[0], waitErr)
		}
	}

	if !h.Command.Allowed(code) {
		return &domain.ProcessFailure{
			Command:  h.Command.Argv[0],
			ExitCode: code,
			Stderr:   tail(h.stderr.String(), 4096),
		}
	}
	return nil
}

// Terminate asks the process group to exit with SIGTERM, escalating to
// SIGKILL after the grace period.
func (r *Runner) Terminate(h *Handle, grace time.Duration) error {
	h.mu.Lock()
	reaped := h.reaped
	h.mu.Unlock()
	if reaped {
		return nil
	}

	// Negative pid signals the whole group
	if err := syscall.Kill(-h.PID, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to signal process %d: %w", h.PID, err)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}

	if err := syscall.Kill(-h.PID, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill process %d: %w", h.PID, err)
	}
	<-h.done
	return nil
}

// TerminateByID terminates a tracked process by handle id.
func (r *Runner) TerminateByID(id string, grace time.Duration) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return r.Terminate(h, grace)
}

// Running reports how many processes the runner is currently tracking.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
