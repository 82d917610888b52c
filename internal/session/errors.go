package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotLoaded          = errors.New("session: exam not loaded")
	ErrAlreadySubmitted   = errors.New("session: exam already submitted")
	ErrDataIntegrity      = errors.New("session: malformed exam payload")
	ErrNotInProgress      = errors.New("session: exam is not in progress")
	ErrNotStarted         = errors.New("session: exam has not started")
	ErrAbandoned          = errors.New("session: session was abandoned")
	ErrOutOfRange         = errors.New("session: question index out of range")
	ErrUnknownQuestion    = errors.New("session: question is not part of this exam")
	ErrInvalidOption      = errors.New("session: option index out of range")
	ErrSubmissionInFlight = errors.New("session: submission already in flight")

	// ErrDuplicateSubmission is returned by a Gateway when the server already
	// holds a record for (exam, user).
	ErrDuplicateSubmission = errors.New("session: duplicate submission")
	// ErrSubmissionRejected is returned by a Gateway when the server refused
	// the payload itself. Retrying the same payload will not help.
	ErrSubmissionRejected = errors.New("session: submission rejected")
)

// DuplicateSubmissionError is a duplicate response that carried the
// existing result id.
type DuplicateSubmissionError struct {
	ResultID uuid.UUID
}

func (e *DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("session: duplicate submission (result %s)", e.ResultID)
}

func (e *DuplicateSubmissionError) Is(target error) bool {
	return target == ErrDuplicateSubmission
}

// IntegrityError lists what was wrong with a fetched payload.
type IntegrityError struct {
	Problems []string
}

func (e *IntegrityError) Error() string {
	return "session: malformed exam payload: " + strings.Join(e.Problems, "; ")
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}

// SubmitError is a failed submission. Answers are kept when it is returned.
type SubmitError struct {
	Reason    string
	Retryable bool
	Err       error
}

func (e *SubmitError) Error() string {
	if e.Err == nil {
		return "session: " + e.Reason
	}
	return fmt.Sprintf("session: %s: %v", e.Reason, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
