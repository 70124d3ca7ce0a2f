package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandResult 外部程式執行結果
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner 執行外部程式，測試時替換成 fake
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

type execRunner struct{}

// NewExecRunner os/exec runner
func NewExecRunner() CommandRunner {
	return &execRunner{}
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}
