package config

import (
	"fmt"

	"github.com/pkg/errors"
)

// An Error reports a malformed experiment configuration.
type Error struct {
	// Field is the dotted path of the offending field,
	// e.g. "networks.classifier.pretrained".
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func errorf(field, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Field: field, Msg: fmt.Sprintf(format, args...)})
}

// IsError checks if err, possibly wrapped, is an *Error.
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
