package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/compozy/gitdeck/internal/domain"
)

var (
	// branchNameRegex matches valid git branch names
	branchNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)
	// remoteNameRegex matches remote names as git accepts them from the CLI
	remoteNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// ValidateBranchName validates a git branch name.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if len(branch) > 255 {
		return fmt.Errorf("branch name too long: %d characters (max: 255)", len(branch))
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with a dash: %s", branch)
	}
	if strings.HasPrefix(branch, "/") || strings.HasSuffix(branch, "/") {
		return fmt.Errorf("branch name cannot start or end with slash: %s", branch)
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain consecutive dots: %s", branch)
	}
	if strings.HasSuffix(branch, ".lock") {
		return fmt.Errorf("branch name cannot end with .lock: %s", branch)
	}
	if !branchNameRegex.MatchString(branch) {
		return fmt.Errorf("invalid branch name format: %s", branch)
	}
	return nil
}

// ValidateRemoteName validates a git remote name.
func ValidateRemoteName(remote string) error {
	if remote == "" {
		return fmt.Errorf("remote name cannot be empty")
	}
	if strings.HasPrefix(remote, "-") || !remoteNameRegex.MatchString(remote) {
		return fmt.Errorf("invalid remote name format: %s", remote)
	}
	return nil
}

// ValidateParams checks the parameters of kind before it is queued.
// Errors wrap domain.ErrInvalidParams.
func ValidateParams(kind domain.OperationKind, params domain.Params) error {
	if _, err := domain.ParseOperationKind(string(kind)); err != nil {
		return err
	}
	var err error
	switch kind {
	case domain.OperationKindFetch:
		err = validateOptionalRemote(params)
	case domain.OperationKindPull, domain.OperationKindPush:
		if err = validateOptionalRemote(params); err == nil {
			if branch := params.Get("branch", ""); branch != "" {
				err = ValidateBranchName(branch)
			}
		}
	case domain.OperationKindCommit:
		if strings.TrimSpace(params.Get("message", "")) == "" {
			err = fmt.Errorf("commit message cannot be empty")
		}
	case domain.OperationKindRebaseStart:
		err = ValidateBranchName(params.Get("onto", ""))
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidParams, kind, err)
	}
	return nil
}

func validateOptionalRemote(params domain.Params) error {
	if remote := params.Get("remote", ""); remote != "" {
		return ValidateRemoteName(remote)
	}
	return nil
}
