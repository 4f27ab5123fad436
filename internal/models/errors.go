package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures for webhook payloads and the
// job archive.
type ErrorKind string

const (
	ErrKindValidation    ErrorKind = "validation"
	ErrKindSource        ErrorKind = "source"
	ErrKindAnalysis      ErrorKind = "analysis"
	ErrKindRender        ErrorKind = "render"
	ErrKindTranscription ErrorKind = "transcription"
	ErrKindTimeout       ErrorKind = "timeout"
	ErrKindCancelled     ErrorKind = "cancelled"
	ErrKindInternal      ErrorKind = "internal"
)

// PipelineError wraps a failure with its classification. The orchestrator
// unwraps the kind to build the terminal JobError.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError builds a classified error wrapping err.
func NewPipelineError(kind ErrorKind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from err, defaulting to internal.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindInternal
}

// ErrorOf converts err into the JobError recorded on terminal jobs.
func ErrorOf(err error) *JobError {
	return &JobError{Kind: string(KindOf(err)), Message: err.Error()}
}
