package events

import (
	"errors"
	"fmt"
)

// errUnsubscribed skips a delivery whose subscription was removed after the
// publisher picked it up.
var errUnsubscribed = errors.New("subscription removed")

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	SubscriptionID uint64
	Topic          Topic
	Value          any
	Stack          string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic for subscription %d on topic %s: %v", e.SubscriptionID, e.Topic, e.Value)
}
