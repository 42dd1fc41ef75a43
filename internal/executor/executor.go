package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	DefaultTimeout = 500 * time.Millisecond

	// how long to wait for a SIGKILLed target to be reaped
	reapTimeout = 5 * time.Second
)

// ErrKillFailed is returned when a target that ran past its budget could not
// be terminated. The caller may carry on; the process is reaped in the
// background if it ever exits.
var ErrKillFailed = errors.New("failed to kill target")

// Executor runs the target once per candidate input.
type Executor struct {
	target  string
	args    []string
	timeout time.Duration
}

func New(target string, args []string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		target,
		append([]string(nil), args...),
		timeout,
	}
}

func (e *Executor) Target() string { return e.target }

func (e *Executor) Timeout() time.Duration { return e.timeout }

// Execute writes input to scratchPath and runs the target with the fixed
// arguments followed by scratchPath. Its behavior is as follows:
//
//  1. The target runs in its own process group with stdin, stdout and stderr
//     bound to the null device.
//  2. If it exits before the budget, its exit code or terminating signal is
//     reported and any children left in its group are killed.
//  3. If the budget elapses, the whole process group is killed with SIGKILL
//     and the outcome is TimedOut.
//  4. If ctx is cancelled, the process group is killed and ctx.Err() is
//     returned.
//
// Neither the target nor anything it spawned in its group is left running
// once Execute returns without error.
func (e *Executor) Execute(ctx context.Context, input []byte, scratchPath string) (Outcome, error) {
	if err := os.WriteFile(scratchPath, input, 0644); err != nil {
		return Outcome{}, fmt.Errorf("failed to write scratch file: %w", err)
	}

	args := make([]string, 0, len(e.args)+1)
	args = append(args, e.args...)
	args = append(args, scratchPath)

	cmd := exec.Command(e.target, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("failed to spawn target: %w", err)
	}

	// Channel to observe when the process exits
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait() // exit status is read from ProcessState
		close(done)
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case <-done:
		outcome := outcomeOf(cmd.ProcessState, time.Since(start))
		// ESRCH means the group is already empty
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		return outcome, nil

	case <-timer.C:
		if err := killAndReap(cmd, done); err != nil {
			return Outcome{}, err
		}
		outcome := outcomeOf(cmd.ProcessState, time.Since(start))
		if outcome.Kind == Signaled && outcome.Signal == syscall.SIGKILL {
			outcome = Outcome{Kind: TimedOut, Duration: outcome.Duration}
		}
		// otherwise the target finished on its own while we were killing it
		return outcome, nil

	case <-ctx.Done():
		if err := killAndReap(cmd, done); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, ctx.Err()
	}
}

// killAndReap SIGKILLs the target's process group and waits for the target to
// be reaped. If the group cannot be signalled, including when the target is
// not a group leader, the target alone is killed.
func killAndReap(cmd *exec.Cmd, done <-chan struct{}) error {
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("%w (pid %d): %v", ErrKillFailed, pid, err)
		}
	}

	reap := time.NewTimer(reapTimeout)
	defer reap.Stop()
	select {
	case <-done:
		return nil
	case <-reap.C:
		return fmt.Errorf("%w (pid %d): still running %s after SIGKILL", ErrKillFailed, pid, reapTimeout)
	}
}

func outcomeOf(state *os.ProcessState, elapsed time.Duration) Outcome {
	if state == nil {
		return Outcome{Kind: Exited, ExitCode: -1, Duration: elapsed}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return Outcome{Kind: Signaled, Signal: ws.Signal(), Duration: elapsed}
	}
	return Outcome{Kind: Exited, ExitCode: state.ExitCode(), Duration: elapsed}
}
