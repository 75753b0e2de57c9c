package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// newCommand builds a command that runs in its own process group so the
// whole subprocess tree can be killed together.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	return cmd
}

// runCommand starts cmd, feeds stdin, and drains stdout and stderr
// concurrently before waiting, so large outputs cannot fill a pipe and stall
// the child. A non-nil pm tracks the process while it runs.
func runCommand(cmd *exec.Cmd, stdin string, pm *ProcessManager) (stdout, stderr []byte, err error) {
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	var (
		wg             sync.WaitGroup
		outBuf, errBuf bytes.Buffer
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&outBuf, outPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&errBuf, errPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	stdout, stderr = outBuf.Bytes(), errBuf.Bytes()
	if waitErr != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, msg)
		}
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}
	return stdout, stderr, nil
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// ProcessManager tracks running provider subprocesses so they can all be
// killed on shutdown.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

func NewProcessManager() *ProcessManager {
	return &ProcessManager{procs: make(map[int]*exec.Cmd)}
}

// Track registers a started command.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	pm.procs[cmd.Process.Pid] = cmd
	pm.mu.Unlock()
}

// Untrack forgets a command after it has exited.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	delete(pm.procs, cmd.Process.Pid)
	pm.mu.Unlock()
}

// KillAll kills the process group of every tracked command.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for _, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked commands.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
