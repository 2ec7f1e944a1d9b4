package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"time"
)

const (
	commandTimeout   = 30 * time.Second
	outputCap        = 10_000
	captureBufferCap = 1 << 20 // 1 MiB
)

// blockedCommands are rejected before any shell is invoked.
var blockedCommands = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf`),
	regexp.MustCompile(`(?i)rm\s+.*\/`),
	regexp.MustCompile(`(?i)curl.*\|.*sh`),
	regexp.MustCompile(`(?i)wget.*\|.*sh`),
	regexp.MustCompile(`(?i)>\s*\/dev`),
	regexp.MustCompile(`(?i)dd\s+if=`),
	regexp.MustCompile(`(?i)mkfs`),
	regexp.MustCompile(`(?i)format`),
}

// CommandBlocked reports whether command matches the static blocklist.
func CommandBlocked(command string) bool {
	for _, re := range blockedCommands {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// cappedBuffer discards writes past its cap.
type cappedBuffer struct {
	buf bytes.Buffer
	cap int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := c.cap - c.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			c.buf.Write(p[:remaining])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

// runCommand executes command in a shell with cwd = project root. A non-zero
// exit is not a failure; the combined output is returned either way.
func (d *Dispatcher) runCommand(ctx context.Context, root, command string, args []string) *Result {
	if command == "" {
		return errorResult("run_command", args, "run_command requires a command")
	}
	if CommandBlocked(command) {
		slog.Warn("security.command_blocked", "command", command)
		return errorResult("run_command", args, "Command blocked for security reasons")
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = root

	capture := &cappedBuffer{cap: captureBufferCap}
	cmd.Stdout = capture
	cmd.Stderr = capture

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return errorResult("run_command", args, fmt.Sprintf("command timed out after %s", commandTimeout))
	}

	output := capture.buf.String()
	truncated := false
	if len(output) > outputCap {
		output = output[:outputCap]
		truncated = true
	}

	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			return errorResult("run_command", args, fmt.Sprintf("failed to execute command: %v", runErr))
		}
		// Non-zero exit: surface the output, not a failure.
		if output == "" {
			output = runErr.Error()
		}
	}
	if output == "" {
		output = "(command completed with no output)"
	}

	res := successResult("run_command", args, output)
	res.Truncated = truncated
	return res
}
