package mediatools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// commandRunner is the single subprocess execution path for every tool.
type commandRunner struct {
	logger     *slog.Logger
	debugPaths bool
}

// run executes bin with args under timeout. A non-zero exit, a start
// failure or an expired deadline is returned as a *ToolError; the RunResult
// is filled in either way.
func (r commandRunner) run(ctx context.Context, timeout time.Duration, bin string, args ...string) (RunResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	tool := filepath.Base(bin)

	cmd := exec.CommandContext(ctx, bin, args...)
	// children that inherit the pipes must not keep Wait blocked after a kill
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	r.logger.Debug("executing tool command",
		"tool", tool,
		"args", r.safeArgs(args),
		"timeout", timeout,
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := RunResult{
		ExitCode:   exitCode,
		Stdout:     stdout.Bytes(),
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
	}

	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		r.logger.Warn("tool command aborted",
			"tool", tool,
			"duration_ms", elapsed.Milliseconds(),
			"error", ctxErr,
		)
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, &ToolError{Tool: tool, Err: fmt.Errorf("timed out after %s: %w", timeout, ctxErr)}
		}
		return result, &ToolError{Tool: tool, Err: ctxErr}
	}

	if err != nil {
		r.logger.Warn("tool command failed",
			"tool", tool,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
		toolErr := &ToolError{Tool: tool, ExitCode: exitCode, StderrTail: result.StderrTail}
		if exitCode == -1 {
			toolErr.Err = err
		}
		return result, toolErr
	}

	r.logger.Debug("tool command succeeded",
		"tool", tool,
		"duration_ms", elapsed.Milliseconds(),
		"stdout_bytes", stdout.Len(),
	)
	return result, nil
}

func (r commandRunner) safeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if filepath.IsAbs(a) {
			out[i] = r.safePath(a)
		} else {
			out[i] = a
		}
	}
	return out
}

func (r commandRunner) safePath(path string) string {
	if r.debugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
