package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/compozy/gitdeck/internal/domain"
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// summarizeStatus renders the one-line form used by status, refresh and watch.
func summarizeStatus(s *domain.RepoStatus) string {
	var b strings.Builder
	branch := s.Branch
	if branch == "" {
		branch = "(detached)"
	}
	fmt.Fprintf(&b, "%-20s %s", s.RepoID, branch)
	if s.Upstream != "" {
		fmt.Fprintf(&b, " ...%s", s.Upstream)
	}
	if s.Ahead > 0 || s.Behind > 0 {
		fmt.Fprintf(&b, " [ahead %d, behind %d]", s.Ahead, s.Behind)
	}
	if s.IsDirty {
		fmt.Fprintf(&b, " staged:%d unstaged:%d untracked:%d",
			len(s.Changes.Staged), len(s.Changes.Unstaged), len(s.Changes.Untracked))
	} else {
		b.WriteString(" clean")
	}
	if s.Rebase.InProgress {
		b.WriteString(" " + describeRebase(s.Rebase))
	}
	return b.String()
}

func describeRebase(rs domain.RebaseState) string {
	progress := "?"
	if rs.Total > 0 {
		progress = fmt.Sprintf("%d/%d", rs.Step, rs.Total)
	}
	if len(rs.Conflicts) > 0 {
		return fmt.Sprintf("REBASE %s conflicts: %s", progress, strings.Join(rs.Conflicts, ", "))
	}
	return fmt.Sprintf("REBASE %s", progress)
}

func summarizeResult(r domain.OperationResult) string {
	if r.Success {
		return fmt.Sprintf("%s %s on %s succeeded in %s", r.OpID, r.Kind, r.RepoID, r.Duration().Round(1e6))
	}
	msg := fmt.Sprintf("%s %s on %s failed (%s, exit %d)", r.OpID, r.Kind, r.RepoID, r.Reason, r.ExitCode)
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}

// parseParams turns repeated key=value flags into operation params.
func parseParams(pairs []string) (domain.Params, error) {
	params := domain.Params{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
