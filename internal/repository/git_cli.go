package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/compozy/gitdeck/internal/domain"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// MinGitVersion is the oldest git release that emits porcelain v2 status.
const MinGitVersion = "2.11.0"

// baseEnv keeps git non-interactive and its output locale-independent.
var baseEnv = []string{"GIT_TERMINAL_PROMPT=0", "LC_ALL=C"}

// GitCLIAdapter implements ProcessAdapter by running the git binary.
type GitCLIAdapter struct {
	gitBin  string
	runner  CommandRunner
	fs      afero.Fs
	logger  *zap.Logger
	gitDirs sync.Map // repoPath -> absolute git dir
}

// NewGitCLIAdapter creates an adapter. Nil collaborators get OS defaults.
func NewGitCLIAdapter(gitBin string, runner CommandRunner, fs afero.Fs, logger *zap.Logger) *GitCLIAdapter {
	if strings.TrimSpace(gitBin) == "" {
		gitBin = "git"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitCLIAdapter{gitBin: gitBin, runner: runner, fs: fs, logger: logger}
}

// CheckVersion verifies the installed git is recent enough.
func (a *GitCLIAdapter) CheckVersion(ctx context.Context) (*semver.Version, error) {
	out, err := a.runner.Run(ctx, "", baseEnv, a.gitBin, "--version")
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", a.gitBin, err)
	}
	if out.ExitCode != 0 {
		return nil, fmt.Errorf("%s --version exited %d: %s", a.gitBin, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	version, err := parseGitVersion(out.Stdout)
	if err != nil {
		return nil, err
	}
	constraint, err := semver.NewConstraint(">= " + MinGitVersion)
	if err != nil {
		return nil, err
	}
	if !constraint.Check(version) {
		return version, fmt.Errorf("git %s is too old: need %s or newer", version, MinGitVersion)
	}
	return version, nil
}

// parseGitVersion accepts forms like "git version 2.39.3 (Apple Git-145)"
// and "git version 2.40.0.windows.1".
func parseGitVersion(out string) (*semver.Version, error) {
	fields := strings.Fields(out)
	if len(fields) < 3 || fields[0] != "git" || fields[1] != "version" {
		return nil, fmt.Errorf("unexpected git version output %q", strings.TrimSpace(out))
	}
	parts := strings.Split(fields[2], ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	version, err := semver.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return nil, fmt.Errorf("invalid git version %q: %w", fields[2], err)
	}
	return version, nil
}

// Execute runs the command for spec inside repoPath.
func (a *GitCLIAdapter) Execute(ctx context.Context, repoPath string, spec domain.OperationSpec) (domain.AdapterResult, error) {
	if spec.Kind == domain.OperationKindRefreshStatus {
		return a.status(ctx, repoPath)
	}
	args, env, err := buildArgs(spec)
	if err != nil {
		return domain.AdapterResult{}, err
	}
	// a start refused because a rebase already exists must not be mistaken
	// for one that stopped on its own conflicts
	alreadyRebasing := false
	if spec.Kind == domain.OperationKindRebaseStart {
		alreadyRebasing = a.rebaseInProgress(ctx, repoPath)
	}
	a.logger.Debug("running git", zap.String("path", repoPath), zap.String("kind", string(spec.Kind)))
	out, err := a.runner.Run(ctx, repoPath, append(env, baseEnv...), a.gitBin, args...)
	if err != nil {
		return domain.AdapterResult{}, err
	}
	result := domain.AdapterResult{ExitCode: out.ExitCode, Stdout: out.Stdout, Stderr: out.Stderr}
	if !pausesOnConflict(spec.Kind) || out.ExitCode != rebaseStoppedExitCode || alreadyRebasing {
		return result, nil
	}
	// git exits 1 when a rebase stops on conflicts. That is the expected
	// paused outcome, so it is reported as success with the conflicted
	// status attached.
	statusResult, statusErr := a.status(ctx, repoPath)
	if statusErr != nil || statusResult.ExitCode != 0 || statusResult.ParsedStatus == nil {
		return result, nil
	}
	if rs := statusResult.ParsedStatus.Rebase; rs.InProgress && len(rs.Conflicts) > 0 {
		result.ExitCode = 0
		result.ParsedStatus = statusResult.ParsedStatus
	}
	return result, nil
}

// rebaseStoppedExitCode is what `git rebase` and `git rebase --continue`
// return when they stop on a conflicting commit.
const rebaseStoppedExitCode = 1

func pausesOnConflict(kind domain.OperationKind) bool {
	return kind == domain.OperationKindRebaseStart || kind == domain.OperationKindRebaseContinue
}

// rebaseInProgress reports whether rebase metadata exists. Lookup failures
// count as in progress so the result of the following command is left alone.
func (a *GitCLIAdapter) rebaseInProgress(ctx context.Context, repoPath string) bool {
	gitDir, err := a.gitDir(ctx, repoPath)
	if err != nil {
		a.logger.Debug("cannot resolve git dir", zap.String("path", repoPath), zap.Error(err))
		return true
	}
	progress, err := ReadRebaseProgress(a.fs, gitDir)
	if err != nil {
		return true
	}
	return progress.InProgress
}

func (a *GitCLIAdapter) status(ctx context.Context, repoPath string) (domain.AdapterResult, error) {
	out, err := a.runner.Run(ctx, repoPath, baseEnv, a.gitBin,
		"status", "--porcelain=v2", "--branch", "-z", "--untracked-files=all")
	if err != nil {
		return domain.AdapterResult{}, err
	}
	result := domain.AdapterResult{ExitCode: out.ExitCode, Stdout: out.Stdout, Stderr: out.Stderr}
	if out.ExitCode != 0 {
		return result, nil
	}
	status, conflicts, err := ParseStatusV2("", out.Stdout)
	if err != nil {
		return domain.AdapterResult{}, fmt.Errorf("failed to parse status for %s: %w", repoPath, err)
	}
	gitDir, err := a.gitDir(ctx, repoPath)
	if err != nil {
		return domain.AdapterResult{}, err
	}
	progress, err := ReadRebaseProgress(a.fs, gitDir)
	if err != nil {
		return domain.AdapterResult{}, err
	}
	if progress.InProgress {
		status.Rebase = domain.RebaseState{
			InProgress: true,
			Step:       progress.Step,
			Total:      progress.Total,
			Conflicts:  conflicts,
		}
		if status.Branch == "" {
			status.Branch = progress.HeadName
		}
	}
	result.ParsedStatus = status.WithRebase(status.Rebase)
	return result, nil
}

func (a *GitCLIAdapter) gitDir(ctx context.Context, repoPath string) (string, error) {
	if dir, ok := a.gitDirs.Load(repoPath); ok {
		return dir.(string), nil
	}
	out, err := a.runner.Run(ctx, repoPath, baseEnv, a.gitBin, "rev-parse", "--git-dir")
	if err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		return "", fmt.Errorf("%w: %s", domain.ErrAdapterFailure, strings.TrimSpace(out.Stderr))
	}
	dir := strings.TrimSpace(out.Stdout)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repoPath, dir)
	}
	a.gitDirs.Store(repoPath, dir)
	return dir, nil
}

func buildArgs(spec domain.OperationSpec) ([]string, []string, error) {
	p := spec.Params
	switch spec.Kind {
	case domain.OperationKindFetch:
		return []string{"fetch", "--prune", p.Get("remote", "origin")}, nil, nil
	case domain.OperationKindPull:
		args := []string{"pull", "--ff-only", p.Get("remote", "origin")}
		if branch := p.Get("branch", ""); branch != "" {
			args = append(args, branch)
		}
		return args, nil, nil
	case domain.OperationKindPush:
		args := []string{"push"}
		if p.Get("set_upstream", "") == "true" {
			args = append(args, "--set-upstream")
		}
		return append(args, p.Get("remote", "origin"), p.Get("branch", "HEAD")), nil, nil
	case domain.OperationKindCommit:
		args := []string{"commit", "-m", p.Get("message", "")}
		if p.Get("amend", "") == "true" {
			args = append(args, "--amend")
		}
		return args, nil, nil
	case domain.OperationKindStage:
		paths := splitPaths(p.Get("paths", ""))
		if len(paths) == 0 {
			return []string{"add", "--all"}, nil, nil
		}
		return append([]string{"add", "--"}, paths...), nil, nil
	case domain.OperationKindUnstage:
		paths := splitPaths(p.Get("paths", ""))
		if len(paths) == 0 {
			return []string{"reset", "--quiet"}, nil, nil
		}
		return append([]string{"restore", "--staged", "--"}, paths...), nil, nil
	case domain.OperationKindStash:
		args := []string{"stash", "push"}
		if p.Get("include_untracked", "") == "true" {
			args = append(args, "--include-untracked")
		}
		if msg := p.Get("message", ""); msg != "" {
			args = append(args, "-m", msg)
		}
		return args, nil, nil
	case domain.OperationKindStashPop:
		return []string{"stash", "pop"}, nil, nil
	case domain.OperationKindRebaseStart:
		return []string{"rebase", p.Get("onto", "")}, nil, nil
	case domain.OperationKindRebaseContinue:
		return []string{"rebase", "--continue"}, []string{"GIT_EDITOR=true"}, nil
	case domain.OperationKindRebaseAbort:
		return []string{"rebase", "--abort"}, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", domain.ErrUnknownOperation, spec.Kind)
	}
}

func splitPaths(raw string) []string {
	var paths []string
	for _, line := range strings.Split(raw, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			paths = append(paths, trimmed)
		}
	}
	return paths
}
