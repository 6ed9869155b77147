//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

func setupProcessGroup(cmd *exec.Cmd) {}

// Windows has no terminate signal for console processes; both steps kill.
func terminateProcessGroup(cmd *exec.Cmd) error {
	return killProcessGroup(cmd)
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
