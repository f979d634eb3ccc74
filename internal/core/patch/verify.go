package patch

import (
	"context"
	"strings"
	"time"

	"github.com/colonyops/mender/pkg/executil"
)

// Verification is the outcome of the check command run after a patch
// applies.
type Verification struct {
	Command   string `json:"command"`
	ExitCode  int    `json:"exit_code"`
	Output    string `json:"output,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Err       string `json:"error,omitempty"`
}

// Passed reports whether the command ran and exited zero.
func (v *Verification) Passed() bool {
	return v.Err == "" && v.ExitCode == 0
}

// NewVerification wraps the captured result of a shell run.
func NewVerification(cmd string, res executil.ShellResult, err error) *Verification {
	v := &Verification{
		Command:   cmd,
		ExitCode:  res.ExitCode,
		Output:    strings.TrimSpace(res.Output),
		Truncated: res.Truncated,
	}
	if err != nil {
		v.Err = err.Error()
	}
	return v
}

// Verifier checks a working copy after a patch applies.
type Verifier interface {
	Verify(ctx context.Context, root string) *Verification
}

// CommandVerifier runs a shell command in the project root.
type CommandVerifier struct {
	Command string
	Timeout time.Duration
	// Limit caps the captured output in bytes.
	Limit int64
}

func (v CommandVerifier) Verify(ctx context.Context, root string) *Verification {
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	res, err := executil.RunShCapture(ctx, root, v.Command, v.Limit)
	return NewVerification(v.Command, res, err)
}
