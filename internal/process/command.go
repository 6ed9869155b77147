package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Output is the captured result of a short-lived command.
type Output struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
}

// Run executes a short-lived command and captures its output. A non-zero exit is not an error.
func Run(ctx context.Context, command string, args []string, env []string) (Output, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = env
	cmd.WaitDelay = time.Second
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	start := time.Now()
	err := cmd.Run()
	out := Output{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		if exitErr := (&exec.ExitError{}); errors.As(err, &exitErr) && ctx.Err() == nil {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, err
	}
	return out, nil
}

// SplitCommand splits a command line into argv, honoring quotes and backslash escapes.
func SplitCommand(input string) ([]string, error) {
	var args []string
	var buf bytes.Buffer
	inSingle := false
	inDouble := false
	escape := false

	for _, r := range input {
		if escape {
			buf.WriteRune(r)
			escape = false
			continue
		}
		if r == '\\' && !inSingle {
			escape = true
			continue
		}
		if r == '\'' && !inDouble {
			inSingle = !inSingle
			continue
		}
		if r == '"' && !inSingle {
			inDouble = !inDouble
			continue
		}
		if (r == ' ' || r == '\t' || r == '\n') && !inSingle && !inDouble {
			if buf.Len() > 0 {
				args = append(args, buf.String())
				buf.Reset()
			}
			continue
		}
		buf.WriteRune(r)
	}
	if escape || inSingle || inDouble {
		return nil, errors.New("unterminated quote or escape in command")
	}
	if buf.Len() > 0 {
		args = append(args, buf.String())
	}
	return args, nil
}
