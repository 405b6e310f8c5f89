package pipeline

import (
	"errors"
	"fmt"

	"dubber/internal/domain"
	"dubber/internal/retry"
)

const maxMessageLen = 2000

// StageError is returned by Run when a stage fails.
type StageError struct {
	Stage domain.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// DescribeFailure returns the persisted message and the human-actionable
// suggestion for a stage error.
func DescribeFailure(err error) (string, string) {
	message := domain.Truncate(err.Error(), maxMessageLen)
	var missing *domain.MissingArtifactError
	if errors.As(err, &missing) {
		return message, missing.Suggestion()
	}
	var failure *retry.Failure
	if errors.As(err, &failure) && failure.Suggestion != "" {
		return message, failure.Suggestion
	}
	return message, retry.Classify(err).Suggestion()
}

// FailureKind maps err onto the status taxonomy.
func FailureKind(err error) domain.ErrorKind {
	var missing *domain.MissingArtifactError
	if errors.As(err, &missing) {
		return missing.Kind()
	}
	return retry.Classify(err).Kind()
}
