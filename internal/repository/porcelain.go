package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/compozy/gitdeck/internal/domain"
)

// ParseStatusV2 parses NUL-separated `git status --porcelain=v2 --branch -z`
// output. Unmerged entries are returned as conflict changes and their paths
// in conflicts; rebase progress is not known from this output alone.
func ParseStatusV2(repoID, raw string) (*domain.RepoStatus, []string, error) {
	status := &domain.RepoStatus{RepoID: repoID}
	var conflicts []string
	tokens := strings.Split(raw, "\x00")
	for i := 0; i < len(tokens); i++ {
		entry := tokens[i]
		if entry == "" {
			continue
		}
		switch entry[0] {
		case '#':
			if err := parseBranchHeader(status, entry); err != nil {
				return nil, nil, err
			}
		case '1':
			fields := strings.SplitN(entry, " ", 9)
			if len(fields) != 9 {
				return nil, nil, fmt.Errorf("malformed ordinary entry %q", entry)
			}
			addTrackedChange(status, fields[1], fields[8], "")
		case '2':
			fields := strings.SplitN(entry, " ", 10)
			if len(fields) != 10 {
				return nil, nil, fmt.Errorf("malformed rename entry %q", entry)
			}
			var oldPath string
			if i+1 < len(tokens) {
				i++
				oldPath = tokens[i]
			}
			addTrackedChange(status, fields[1], fields[9], oldPath)
		case 'u':
			fields := strings.SplitN(entry, " ", 11)
			if len(fields) != 11 {
				return nil, nil, fmt.Errorf("malformed unmerged entry %q", entry)
			}
			path := fields[10]
			conflicts = append(conflicts, path)
			status.Changes.Unstaged = append(status.Changes.Unstaged, domain.FileChange{
				Path:   path,
				Status: fields[1],
				Kind:   domain.ChangeKindConflict,
			})
		case '?':
			status.Changes.Untracked = append(status.Changes.Untracked, domain.FileChange{
				Path:   strings.TrimPrefix(entry, "? "),
				Status: "?",
				Kind:   domain.ChangeKindUntracked,
			})
		case '!':
			// ignored files are not part of the snapshot
		default:
			return nil, nil, fmt.Errorf("unknown status entry %q", entry)
		}
	}
	status.IsDirty = status.HasChanges()
	return status, conflicts, nil
}

func parseBranchHeader(status *domain.RepoStatus, line string) error {
	switch {
	case strings.HasPrefix(line, "# branch.head "):
		head := strings.TrimPrefix(line, "# branch.head ")
		if head != "(detached)" {
			status.Branch = head
		}
	case strings.HasPrefix(line, "# branch.upstream "):
		status.Upstream = strings.TrimPrefix(line, "# branch.upstream ")
	case strings.HasPrefix(line, "# branch.ab "):
		parts := strings.Fields(line)
		if len(parts) != 4 {
			return fmt.Errorf("malformed branch.ab header %q", line)
		}
		ahead, err := strconv.Atoi(strings.TrimPrefix(parts[2], "+"))
		if err != nil {
			return fmt.Errorf("invalid ahead count in %q: %w", line, err)
		}
		behind, err := strconv.Atoi(strings.TrimPrefix(parts[3], "-"))
		if err != nil {
			return fmt.Errorf("invalid behind count in %q: %w", line, err)
		}
		status.Ahead, status.Behind = ahead, behind
	}
	return nil
}

func addTrackedChange(status *domain.RepoStatus, xy, path, oldPath string) {
	if len(xy) != 2 {
		return
	}
	if xy[0] != '.' {
		status.Changes.Staged = append(status.Changes.Staged, domain.FileChange{
			Path:    path,
			Status:  string(xy[0]),
			Kind:    domain.ChangeKindStaged,
			OldPath: oldPath,
		})
	}
	if xy[1] != '.' {
		status.Changes.Unstaged = append(status.Changes.Unstaged, domain.FileChange{
			Path:    path,
			Status:  string(xy[1]),
			Kind:    domain.ChangeKindUnstaged,
			OldPath: oldPath,
		})
	}
}
