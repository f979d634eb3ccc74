package executil

import (
	"context"
	"sync"
)

// RecordedCommand is one command seen by a RecordingExecutor.
type RecordedCommand struct {
	Dir  string
	Cmd  string
	Args []string
}

// RecordingExecutor records commands instead of running them. Outputs and
// Errors are keyed by command name (for example "git").
type RecordingExecutor struct {
	mu       sync.Mutex
	Commands []RecordedCommand

	Outputs map[string][]byte
	Errors  map[string]error
}

var _ Executor = (*RecordingExecutor)(nil)

// Run records the command and returns the configured output and error.
func (e *RecordingExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return e.record("", cmd, args)
}

// RunDir records the command with its directory.
func (e *RecordingExecutor) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	return e.record(dir, cmd, args)
}

func (e *RecordingExecutor) record(dir, cmd string, args []string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Commands = append(e.Commands, RecordedCommand{Dir: dir, Cmd: cmd, Args: args})
	return e.Outputs[cmd], e.Errors[cmd]
}
