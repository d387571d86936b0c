package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// CommandRunner executes an external binary inside dir.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) (CommandOutput, error)
}

// CommandOutput captures what a finished process produced.
type CommandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args. A process that starts and exits non-zero is
// not an error; its exit code is returned in the output.
func (ExecRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) (CommandOutput, error) {
	// #nosec G204 -- binary comes from local config and args are built by the adapter, never shell interpolated
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := CommandOutput{Stdout: stdout.String(), Stderr: redactCredentials(stderr.String())}
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("%s %s: %w", name, summarizeArgs(args), ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, fmt.Errorf("%s %s: %w", name, summarizeArgs(args), err)
}

var (
	safeArgPattern       = regexp.MustCompile(`^-{0,2}[a-z][a-z-]*$`)
	credentialURLPattern = regexp.MustCompile(`(https?://)[^\s/@]+@`)
	secretPairPattern    = regexp.MustCompile(`(?i)(token|secret|password|passwd|bearer)=[^\s]+`)
)

// summarizeArgs keeps the leading subcommand words so paths and URLs do not
// end up in error messages.
func summarizeArgs(args []string) string {
	safe := make([]string, 0, 2)
	for _, a := range args {
		if !safeArgPattern.MatchString(a) || len(safe) == 2 {
			break
		}
		safe = append(safe, a)
	}
	if len(safe) == 0 {
		return "<redacted>"
	}
	return strings.Join(safe, " ")
}

func redactCredentials(s string) string {
	s = credentialURLPattern.ReplaceAllString(s, "$1<redacted>@")
	return secretPairPattern.ReplaceAllString(s, "$1=<redacted>")
}
