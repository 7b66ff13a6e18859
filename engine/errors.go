package engine

import (
	stderrors "errors"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeUnknownTrigger  = "WF_UNKNOWN_TRIGGER"
	ErrCodeUnknownInstance = "WF_UNKNOWN_INSTANCE"
	ErrCodeVersionConflict = "WF_VERSION_CONFLICT"
	ErrCodeHandlerPanic    = "WF_HANDLER_PANIC"
)

var (
	ErrUnknownTrigger = apperrors.New("no handler for trigger", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeUnknownTrigger)
	ErrUnknownInstance = apperrors.New("unknown instance", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeUnknownInstance)
	ErrVersionConflict = apperrors.New("instance version conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeVersionConflict)
	ErrHandlerPanic = apperrors.New("handler panicked", apperrors.CategoryInternal).
			WithTextCode(ErrCodeHandlerPanic)
)

func runtimeError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if message != "" {
		err.Message = message
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// RuntimeErrorCode extracts the text code from an engine error, empty when
// the error did not originate here.
func RuntimeErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}
