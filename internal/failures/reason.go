package failures

import (
	"errors"
	"fmt"

	errs "galleryscraper/pkg/errors"
)

// Reason renders the free-text classification stored on a FailureRecord
func Reason(err error) string {
	if err == nil {
		return "unknown failure"
	}
	if status := errs.StatusOf(err); status >= 400 {
		return fmt.Sprintf("HTTP %d", status)
	}

	var classified *errs.Error
	if !errors.As(err, &classified) {
		return err.Error()
	}
	switch classified.Type {
	case errs.ErrorTypeUncaught:
		return "uncaught exception: " + classified.Message
	case errs.ErrorTypeStructural, errs.ErrorTypeTimeout, errs.ErrorTypeNetwork:
		return string(classified.Type) + ": " + classified.Message
	default:
		return classified.Error()
	}
}

// Uncaught converts a recovered panic value into a retryable failure
func Uncaught(value interface{}) *errs.Error {
	cause, ok := value.(error)
	if !ok {
		cause = fmt.Errorf("%v", value)
	}
	return &errs.Error{
		Type:    errs.ErrorTypeUncaught,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// Structural marks an item whose page held no usable metadata
func Structural(msg string) *errs.Error {
	return errs.New(errs.ErrorTypeStructural, 0, msg)
}
