package tags

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput is matched by every caller-input validation failure so
// callers can separate bad requests from data-quality problems.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError reports a value outside one of the closed enumerations.
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s %q (valid: %s)", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// Is lets errors.Is(err, ErrInvalidInput) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}
