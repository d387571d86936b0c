package domain

import (
	"fmt"
	"time"
)

// OperationKind identifies the type of operation submitted against a repository.
type OperationKind string

const (
	OperationKindFetch          OperationKind = "fetch"
	OperationKindPull           OperationKind = "pull"
	OperationKindPush           OperationKind = "push"
	OperationKindCommit         OperationKind = "commit"
	OperationKindStage          OperationKind = "stage"
	OperationKindUnstage        OperationKind = "unstage"
	OperationKindStash          OperationKind = "stash"
	OperationKindStashPop       OperationKind = "stash_pop"
	OperationKindRebaseStart    OperationKind = "rebase_start"
	OperationKindRebaseContinue OperationKind = "rebase_continue"
	OperationKindRebaseAbort    OperationKind = "rebase_abort"
	OperationKindRefreshStatus  OperationKind = "refresh_status"
)

var operationKinds = []OperationKind{
	OperationKindFetch,
	OperationKindPull,
	OperationKindPush,
	OperationKindCommit,
	OperationKindStage,
	OperationKindUnstage,
	OperationKindStash,
	OperationKindStashPop,
	OperationKindRebaseStart,
	OperationKindRebaseContinue,
	OperationKindRebaseAbort,
	OperationKindRefreshStatus,
}

// OperationKinds returns every supported kind in a stable order.
func OperationKinds() []OperationKind {
	out := make([]OperationKind, len(operationKinds))
	copy(out, operationKinds)
	return out
}

// ParseOperationKind converts user input into a known kind.
func ParseOperationKind(s string) (OperationKind, error) {
	for _, k := range operationKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// IsRebase reports whether the kind belongs to the rebase family.
func (k OperationKind) IsRebase() bool {
	switch k {
	case OperationKindRebaseStart, OperationKindRebaseContinue, OperationKindRebaseAbort:
		return true
	}
	return false
}

// Params carries operation-specific arguments.
type Params map[string]string

// Get returns the value for key or fallback when empty.
func (p Params) Get(key, fallback string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return fallback
}

// OperationSpec is what the process adapter receives for a single invocation.
type OperationSpec struct {
	Kind   OperationKind
	Params Params
}

// AdapterResult is the raw outcome of one process adapter invocation.
type AdapterResult struct {
	ExitCode     int
	Stdout       string
	Stderr       string
	ParsedStatus *RepoStatus
}

// FailureReason is the taxonomy code attached to unsuccessful results.
type FailureReason string

const (
	FailureReasonNone                   FailureReason = ""
	FailureReasonAdapter                FailureReason = "adapter_failure"
	FailureReasonTimeout                FailureReason = "timeout"
	FailureReasonInvalidStateTransition FailureReason = "invalid_state_transition"
	FailureReasonCancelled              FailureReason = "cancelled"
)

// OpID uniquely identifies a submitted operation.
type OpID string

// OperationResult is produced exactly once per submitted operation.
type OperationResult struct {
	OpID       OpID          `json:"op_id"`
	Seq        uint64        `json:"seq"`
	RepoID     string        `json:"repo_id"`
	Kind       OperationKind `json:"kind"`
	Success    bool          `json:"success"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Reason     FailureReason `json:"reason,omitempty"`
	Err        error         `json:"-"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Duration returns how long the operation ran, zero if it never started.
func (r OperationResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// PendingOperation is an operation that is queued or currently executing.
type PendingOperation struct {
	OpID     OpID
	Seq      uint64
	RepoID   string
	RepoPath string
	Kind     OperationKind
	Params   Params
	QueuedAt time.Time
}

// Repository is a tracked working copy as supplied by the registry.
type Repository struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}
