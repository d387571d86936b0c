package domain

import (
	"slices"
	"time"
)

// ChangeKind classifies a FileChange relative to the next commit.
type ChangeKind string

const (
	ChangeKindStaged    ChangeKind = "staged"
	ChangeKindUnstaged  ChangeKind = "unstaged"
	ChangeKindUntracked ChangeKind = "untracked"
	ChangeKindConflict  ChangeKind = "conflict"
)

// FileChange is a single entry of the working copy status.
type FileChange struct {
	Path    string     `json:"path"`
	Status  string     `json:"status"`
	Kind    ChangeKind `json:"kind"`
	OldPath string     `json:"old_path,omitempty"`
}

// Changes groups file changes by classification. Unresolved conflicts are
// carried in Unstaged with ChangeKindConflict.
type Changes struct {
	Staged    []FileChange `json:"staged"`
	Unstaged  []FileChange `json:"unstaged"`
	Untracked []FileChange `json:"untracked"`
}

// RepoStatus is a point-in-time snapshot of a working copy. Snapshots are
// replaced wholesale and never mutated once published.
type RepoStatus struct {
	RepoID        string      `json:"repo_id"`
	Branch        string      `json:"branch,omitempty"`
	Upstream      string      `json:"upstream,omitempty"`
	Ahead         int         `json:"ahead"`
	Behind        int         `json:"behind"`
	IsDirty       bool        `json:"is_dirty"`
	Rebase        RebaseState `json:"rebase"`
	Changes       Changes     `json:"changes"`
	LastUpdatedAt time.Time   `json:"last_updated_at"`
}

// Clone returns a deep copy so callers cannot reach the cached snapshot.
func (s *RepoStatus) Clone() *RepoStatus {
	if s == nil {
		return nil
	}
	out := *s
	out.Rebase = s.Rebase.Clone()
	out.Changes = Changes{
		Staged:    slices.Clone(s.Changes.Staged),
		Unstaged:  slices.Clone(s.Changes.Unstaged),
		Untracked: slices.Clone(s.Changes.Untracked),
	}
	return &out
}

// HasChanges reports whether any staged, unstaged or untracked entry exists.
func (s *RepoStatus) HasChanges() bool {
	return len(s.Changes.Staged) > 0 || len(s.Changes.Unstaged) > 0 || len(s.Changes.Untracked) > 0
}

// ConflictPaths returns the paths of entries classified as conflicts.
func (s *RepoStatus) ConflictPaths() []string {
	var paths []string
	for _, c := range s.Changes.Unstaged {
		if c.Kind == ChangeKindConflict {
			paths = append(paths, c.Path)
		}
	}
	return paths
}

// WithRebase returns a copy of s carrying the given rebase state. Conflict
// entries are downgraded to unstaged when no rebase is in progress, so the
// conflict kind only ever appears alongside an active rebase.
func (s *RepoStatus) WithRebase(rs RebaseState) *RepoStatus {
	out := s.Clone()
	out.Rebase = rs.Clone()
	if !rs.InProgress {
		for i := range out.Changes.Unstaged {
			if out.Changes.Unstaged[i].Kind == ChangeKindConflict {
				out.Changes.Unstaged[i].Kind = ChangeKindUnstaged
			}
		}
	}
	out.IsDirty = out.HasChanges()
	return out
}
