package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsValidation_MatchesReturnedError(t *testing.T) {
	var err error = &ValidationError{Field: "run_date", Message: "run date must be in the future"}

	if !IsValidation(err) {
		t.Error("IsValidation should match a *ValidationError")
	}
	if !IsValidation(fmt.Errorf("schedule: %w", err)) {
		t.Error("IsValidation should match a wrapped *ValidationError")
	}
}

func TestIsValidation_RejectsOtherErrors(t *testing.T) {
	for _, err := range []error{
		errors.New("boom"),
		ErrNotFound,
		ErrConflict,
		fmt.Errorf("update: %w", ErrStatusTransitionDenied),
		nil,
	} {
		if IsValidation(err) {
			t.Errorf("IsValidation(%v) = true, want false", err)
		}
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Field: "task_type", Message: "unknown task type"}
	if got := err.Error(); got != "task_type: unknown task type" {
		t.Errorf("Error() = %q", got)
	}
}
