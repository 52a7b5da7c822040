package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names the pipeline step an error came from
type Stage string

const (
	StageValidate Stage = "validate"
	StageExtract  Stage = "extract"
	StageUpload   Stage = "upload"
	StageSubmit   Stage = "submit"
	StagePoll     Stage = "poll"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrUploadFailed     = errors.New("upload failed")
	ErrSubmissionFailed = errors.New("submission failed")
	ErrPollFailed       = errors.New("poll failed")
	ErrRemoteJobFailed  = errors.New("remote job failed")
)

// StageError tags a failure with the stage it happened in and one of the
// sentinel kinds above, so callers can classify it with errors.Is.
type StageError struct {
	Stage  Stage
	Kind   error
	Detail string
	Err    error
}

func (e *StageError) Error() string {
	parts := make([]string, 0, 4)
	parts = append(parts, string(e.Stage))
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if d := strings.TrimSpace(e.Detail); d != "" {
		parts = append(parts, d)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *StageError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func wrap(stage Stage, kind error, detail string, err error) error {
	return &StageError{Stage: stage, Kind: kind, Detail: detail, Err: err}
}

// StageOf returns the stage recorded in err, if any
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Message returns the user-facing text for a pipeline error: the detail when one
// was recorded, otherwise the full error string.
func Message(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		if se.Detail != "" {
			return se.Detail
		}
		if se.Err != nil {
			return se.Err.Error()
		}
	}
	return fmt.Sprint(err)
}
