package workflow

import (
	"reflect"

	"github.com/goliatone/go-errors"
)

// Message is the interface every workflow runtime message must implement
type Message interface {
	Type() string
	Validate() error
}

// Routed messages carry a routing reference used to select the matching
// transition handler, e.g. the step phase for a step completion.
type Routed interface {
	Message
	RouteRef() string
}

// Identified messages carry a delivery identifier the engine uses for
// at-most-once processing.
type Identified interface {
	DeliveryID() string
}

func IsNilMessage(msg any) bool {
	if msg == nil {
		return true
	}

	v := reflect.ValueOf(msg)
	if v.Kind() != reflect.Ptr {
		return false
	}

	return v.IsNil()
}

// MessageHandler provides base validation for any message type
type MessageHandler[T any] struct{}

func (h *MessageHandler[T]) ValidateMessage(msg T) error {
	if IsNilMessage(msg) {
		return errors.New("nil message pointer", errors.CategoryValidation).
			WithTextCode("INVALID_MESSAGE")
	}

	if m, ok := any(msg).(Message); ok {
		if err := m.Validate(); err != nil {
			return errors.Wrap(err, errors.CategoryValidation, "message validation failed").
				WithTextCode("VALIDATION_FAILED")
		}
	}

	return nil
}
