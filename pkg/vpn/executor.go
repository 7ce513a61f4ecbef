package vpn

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// CommandExecutor runs an operator-supplied shell command
type CommandExecutor interface {
	Run(ctx context.Context, command string) (string, error)
}

// ShellExecutor runs commands through the platform shell
type ShellExecutor struct{}

// Run executes command and returns its trimmed combined output
func (ShellExecutor) Run(ctx context.Context, command string) (string, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(out.String()), fmt.Errorf("run %q: %w", command, err)
	}
	return strings.TrimSpace(out.String()), nil
}

// expand substitutes {location} quoted for the platform shell. An empty
// location removes the placeholder.
func expand(template, location string) string {
	return expandFor(runtime.GOOS, template, location)
}

func expandFor(goos, template, location string) string {
	if !strings.Contains(template, "{location}") {
		return template
	}
	if location == "" {
		return strings.Join(strings.Fields(strings.ReplaceAll(template, "{location}", "")), " ")
	}
	return strings.ReplaceAll(template, "{location}", quoteFor(goos, location))
}

// quoteFor quotes s as one argument: single quotes for sh, double quotes for
// cmd, which has no escape for an embedded double quote so those are dropped
func quoteFor(goos, s string) string {
	if goos == "windows" {
		return `"` + strings.ReplaceAll(s, `"`, "") + `"`
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
