package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIAdapter executes a local model CLI and reads the reply from stdout.
type CLIAdapter struct {
	binaryPath string
}

func NewCLIAdapter(binaryPath string) *CLIAdapter {
	return &CLIAdapter{binaryPath: strings.TrimSpace(binaryPath)}
}

func (a *CLIAdapter) Complete(ctx context.Context, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, a.binaryPath, "--no-color", "--message", prompt)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of context cancellation.
			return "", ctx.Err()
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = strings.TrimSpace(stdout.String())
		}
		if errText != "" {
			return "", fmt.Errorf("llm cli failed: %w: %s", err, errText)
		}
		return "", fmt.Errorf("llm cli failed: %w", err)
	}

	return strings.TrimSpace(stdout.String()), nil
}
