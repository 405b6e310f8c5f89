package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrJobBusy        = errors.New("job is busy")
	ErrStageConflict  = errors.New("stage state changed concurrently")
	ErrUnknownStage   = errors.New("unknown stage")
	ErrUnknownField   = errors.New("unknown field")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNoVoiceProfile = errors.New("no voice profile available")
)

// ErrorKind classifies failures for status reporting.
type ErrorKind string

const (
	KindTransientNetwork       ErrorKind = "transient_network"
	KindRateLimited            ErrorKind = "rate_limited"
	KindPermanentRequest       ErrorKind = "permanent_request"
	KindResourceMissing        ErrorKind = "resource_missing"
	KindPartialProviderFailure ErrorKind = "partial_provider_failure"
)

// MissingArtifactError reports an absent upstream input.
type MissingArtifactError struct {
	Artifact string
	Producer Stage
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("required artifact %q is missing", e.Artifact)
}

// Kind implements the kinded error contract.
func (e *MissingArtifactError) Kind() ErrorKind { return KindResourceMissing }

// Suggestion names the stage to re-run.
func (e *MissingArtifactError) Suggestion() string {
	if e.Producer == "" {
		return "re-run the pipeline from the download stage"
	}
	return fmt.Sprintf("re-run the %s stage to regenerate %s", e.Producer, e.Artifact)
}
