package conversations

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationNotFound indicates the referenced conversation does not exist.
	// It is a definitive negative result and must not be retried.
	ErrConversationNotFound = errors.New("conversations: conversation not found")
	// ErrTransientConflict indicates the allocation transaction could not
	// complete under contention. The caller retries the identical request;
	// the idempotency log makes the retry safe.
	ErrTransientConflict = errors.New("conversations: transient conflict")
)

// ServiceError wraps a failure with a dotted operation.reason code that is
// stable across releases and safe to expose to RPC callers.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
