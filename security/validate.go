package security

import (
	"fmt"

	"github.com/google/uuid"

	"framebridge/message"
)

// ValidationError names the frame field that failed shape validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("security: malformed frame: %s %s", e.Field, e.Reason)
}

// WellFormed is the check every inbound frame passes regardless of configuration: it has an
// id, and a request names a method.
func WellFormed(f *message.Frame) error {
	if f == nil {
		return &ValidationError{Field: "frame", Reason: "is missing"}
	}
	if f.ID == "" {
		return &ValidationError{Field: "id", Reason: "is missing"}
	}
	if f.Type == message.TypeRequest && f.Method == "" {
		return &ValidationError{Field: "method", Reason: "is missing"}
	}
	return nil
}

// Validate checks that a decoded frame has the fields its type requires. Type errors in the
// encoding itself (a numeric method, a non-list args) already fail in the codec.
func Validate(f *message.Frame) error {
	if err := WellFormed(f); err != nil {
		return err
	}

	switch f.Type {
	case message.TypeRequest:
		if f.Result != nil || f.Error != "" {
			return &ValidationError{Field: "result", Reason: "is not allowed on a request"}
		}
	case message.TypeResponse:
		if f.Method != "" || len(f.Args) != 0 {
			return &ValidationError{Field: "method", Reason: "is not allowed on a response"}
		}
		if f.Error != "" && f.Result != nil {
			return &ValidationError{Field: "result", Reason: "must be absent when error is set"}
		}
	case "":
		return &ValidationError{Field: "type", Reason: "is missing"}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("%q is unknown", f.Type)}
	}
	return nil
}

// NewCorrelationID returns a random ID, unique across every call that can be pending at the
// same time (and far beyond any timeout window).
func NewCorrelationID() string {
	return uuid.NewString()
}
