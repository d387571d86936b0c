// Package events provides the ordered, multi-subscriber notification channel
// for repository status and operation lifecycle events.
package events

import (
	"github.com/compozy/gitdeck/internal/domain"
)

// Topic names a class of events.
type Topic string

const (
	// TopicStatusChanged carries a StatusChanged payload.
	TopicStatusChanged Topic = "status-changed"
	// TopicOperationCompleted carries an OperationCompleted payload.
	TopicOperationCompleted Topic = "operation-completed"
)

// StatusChanged is published after a new snapshot has been committed to the cache.
type StatusChanged struct {
	RepoID string
	OpID   domain.OpID
	Status *domain.RepoStatus
}

// OperationCompleted is published once per submitted operation.
type OperationCompleted struct {
	RepoID string
	OpID   domain.OpID
	Result domain.OperationResult
}
