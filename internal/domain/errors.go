package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a job does not exist or is not owned by the
// caller. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("job not found")

// ErrConflict is returned when an operation is valid for the job's type but
// not its current state, e.g. cancelling an already-cancelled job.
var ErrConflict = errors.New("job state conflict")

// ErrStatusTransitionDenied is returned when a status update would regress
// from a terminal state or otherwise move backwards through the state
// machine. This guard is what makes queue redelivery safe.
var ErrStatusTransitionDenied = errors.New("status transition denied: job already in terminal state")

// ValidationError reports bad input at the scheduling boundary. The job is
// never created when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
