package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/drover-ai/drover/pkg/tool"
)

const defaultCommandTimeout = 30 * time.Second

// commandHandler builds the handler for a command-backed tool: the validated
// arguments are written to the process as JSON on stdin, trimmed stdout is the
// tool's content.
func commandHandler(entry Entry) tool.Handler {
	timeout := defaultCommandTimeout
	if entry.TimeoutSecs > 0 {
		timeout = time.Duration(entry.TimeoutSecs) * time.Second
	}

	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		input, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("failed to encode arguments: %w", err)
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, entry.Command, entry.Args...)
		cmd.Stdin = bytes.NewReader(input)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("command timed out after %s", timeout)
			}
			detail := strings.TrimSpace(stderr.String())
			if detail != "" {
				return "", fmt.Errorf("command failed: %v: %s", err, detail)
			}
			return "", fmt.Errorf("command failed: %w", err)
		}

		return strings.TrimSpace(stdout.String()), nil
	}
}
