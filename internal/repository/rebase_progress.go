package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// RebaseProgress is the on-disk rebase metadata of a git directory.
type RebaseProgress struct {
	InProgress bool
	Step       int
	Total      int
	HeadName   string
}

// ReadRebaseProgress inspects rebase-merge (interactive/merge backend) and
// rebase-apply (apply backend) state under gitDir.
func ReadRebaseProgress(fs afero.Fs, gitDir string) (RebaseProgress, error) {
	mergeDir := filepath.Join(gitDir, "rebase-merge")
	if ok, err := afero.DirExists(fs, mergeDir); err != nil {
		return RebaseProgress{}, fmt.Errorf("failed to stat %s: %w", mergeDir, err)
	} else if ok {
		return readProgressDir(fs, mergeDir, "msgnum", "end")
	}
	applyDir := filepath.Join(gitDir, "rebase-apply")
	if ok, err := afero.DirExists(fs, applyDir); err != nil {
		return RebaseProgress{}, fmt.Errorf("failed to stat %s: %w", applyDir, err)
	} else if ok {
		// rebase-apply is shared with `git am`; only the rebasing marker means rebase.
		if rebasing, err := afero.Exists(fs, filepath.Join(applyDir, "rebasing")); err != nil || !rebasing {
			return RebaseProgress{}, err
		}
		return readProgressDir(fs, applyDir, "next", "last")
	}
	return RebaseProgress{}, nil
}

func readProgressDir(fs afero.Fs, dir, stepFile, totalFile string) (RebaseProgress, error) {
	progress := RebaseProgress{InProgress: true}
	var err error
	if progress.Step, err = readIntFile(fs, filepath.Join(dir, stepFile)); err != nil {
		return RebaseProgress{}, err
	}
	if progress.Total, err = readIntFile(fs, filepath.Join(dir, totalFile)); err != nil {
		return RebaseProgress{}, err
	}
	head, err := afero.ReadFile(fs, filepath.Join(dir, "head-name"))
	if err != nil && !os.IsNotExist(err) {
		return RebaseProgress{}, fmt.Errorf("failed to read head-name: %w", err)
	}
	progress.HeadName = strings.TrimPrefix(strings.TrimSpace(string(head)), "refs/heads/")
	if progress.HeadName == "detached HEAD" {
		progress.HeadName = ""
	}
	return progress, nil
}

// readIntFile returns 0 for a missing file; git writes some counters lazily.
func readIntFile(fs afero.Fs, path string) (int, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid counter in %s: %w", path, err)
	}
	return n, nil
}
