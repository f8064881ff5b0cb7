package migrate

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"
)

// Command is one invocation of the migration tool
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// Executor runs migration tool commands. This abstraction allows tests to
// inject a mock executor.
type Executor interface {
	// Run executes the command and returns its combined stdout and stderr.
	// A non-zero exit is reported through exitCode, not err.
	Run(ctx context.Context, cmd Command) (output []byte, exitCode int, err error)
}

// ShellExecutor runs commands as subprocesses
type ShellExecutor struct {
	// WaitDelay bounds how long output is drained after the process is killed
	WaitDelay time.Duration
}

// Run implements Executor
func (e *ShellExecutor) Run(ctx context.Context, c Command) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //nolint:gosec // tool path comes from operator configuration
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return output.Bytes(), -1, err
	}
	return output.Bytes(), 0, nil
}

// MockExecutor is a test double for Executor that records calls and
// returns pre-configured responses.
type MockExecutor struct {
	// RunFn is called when Run is invoked. If nil, returns empty output and exit code 0.
	RunFn func(ctx context.Context, cmd Command) ([]byte, int, error)

	mu    sync.Mutex
	calls []Command
}

// Run implements Executor
func (m *MockExecutor) Run(ctx context.Context, cmd Command) ([]byte, int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	m.mu.Unlock()
	if m.RunFn != nil {
		return m.RunFn(ctx, cmd)
	}
	return nil, 0, nil
}

// Calls returns the recorded invocations
func (m *MockExecutor) Calls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.calls...)
}
