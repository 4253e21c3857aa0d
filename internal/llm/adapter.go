package llm

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Adapter is the single text-in/text-out contract the coordinator relies on.
// Implementations may fail or return text that does not parse as a decision;
// both outcomes are normal and handled by the caller.
type Adapter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
	CLIPath string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "cli":
		if strings.TrimSpace(cfg.CLIPath) == "" {
			return nil, errors.New("llm CLI path is required for cli mode")
		}
		return NewCLIAdapter(cfg.CLIPath), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm adapter mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	cliPath := strings.TrimSpace(cfg.CLIPath)
	if cliPath != "" {
		if _, err := exec.LookPath(cliPath); err == nil {
			// Fail fast when the CLI exists: silent fallbacks hide auth/provider
			// issues and make it hard to know which brain is answering.
			return NewCLIAdapter(cliPath)
		}
	}

	httpURL := strings.TrimSpace(cfg.HTTPURL)
	if httpURL != "" {
		return NewHTTPAdapter(httpURL)
	}

	return NewMockAdapter()
}
