package qwen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProviderFile is the instructions file the Qwen CLI reads from its work dir.
const ProviderFile = "QWEN.md"

func defaultInstructions() string {
	return strings.TrimSpace(`You are working inside a project checkout on behalf of a user.

Requirements:
- Make changes directly in the working tree. Keep edits minimal and focused on the request.
- Read a file before editing it. Never invent file paths or dependencies.
- Prefer the project's existing scripts and tooling for building, linting and testing.
- Never print or modify secrets such as .env files, keys or credentials.
- If something cannot be done, say so explicitly and explain what would be needed.

Final answer format:
- Start with a one-line summary of what changed.
- List touched files.
- End with the commands the user should run to verify the change.`)
}

// providerContent builds QWEN.md from the prompt file, falling back to the built-in instructions.
func providerContent(promptFile string) (string, error) {
	body := defaultInstructions()
	if promptFile != "" {
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", fmt.Errorf("read system prompt: %w", err)
		}
		body = strings.TrimSpace(string(data))
	}
	return "# QWEN\n\n" + body + "\n", nil
}

// ensureProviderFile writes QWEN.md into workDir unless it already exists.
// It reports whether a file was created.
func ensureProviderFile(workDir, promptFile string) (bool, error) {
	path := filepath.Join(workDir, ProviderFile)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	content, err := providerContent(promptFile)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", ProviderFile, err)
	}
	return true, nil
}
