package encode

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// CommandRunner runs an external command to completion and returns its
// captured output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// waitDelay bounds how long Wait blocks on output pipes after a kill.
const waitDelay = 5 * time.Second

// Command returns an exec.Cmd that runs in its own process group. Cancelling
// ctx kills the whole group so helper processes do not outlive the request.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay
	return cmd
}

// ExecRunner runs commands built by [Command].
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := Command(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
