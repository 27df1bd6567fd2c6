package centrifuge

import (
	"errors"
	"fmt"

	"github.com/KatantDev/centrifuge-go/internal/registry"
)

// Sentinel errors returned by client and subscription operations. Match
// them with errors.Is.
var (
	// ErrTimeout is returned when an operation does not complete within
	// its timeout.
	ErrTimeout = registry.ErrTimeout
	// ErrClientDisconnected fails operations interrupted by a disconnect.
	ErrClientDisconnected = errors.New("centrifuge: client disconnected")
	// ErrDuplicateSubscription is returned by Client.NewSubscription when
	// a subscription to the channel is already registered.
	ErrDuplicateSubscription = errors.New("centrifuge: duplicate subscription")
	// ErrSubscriptionUnsubscribed fails operations on a subscription that
	// moved to the unsubscribed state.
	ErrSubscriptionUnsubscribed = errors.New("centrifuge: subscription unsubscribed")
	// ErrUnauthorized, returned from a token getter, terminally stops the
	// client or subscription it serves.
	ErrUnauthorized = errors.New("centrifuge: unauthorized")
)

// ReplyError is an error returned by the server in a command reply.
type ReplyError struct {
	Code      uint32
	Message   string
	Temporary bool
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("centrifuge: %d %s", e.Code, e.Message)
}

// CentrifugeError is a generic client library error.
type CentrifugeError struct {
	Message string
}

func (e *CentrifugeError) Error() string {
	return "centrifuge: " + e.Message
}

func errInternal(format string, args ...any) error {
	return &CentrifugeError{Message: fmt.Sprintf(format, args...)}
}
