package patentreview

import (
	"errors"
	"fmt"
)

const (
	KindEmptyInput          = "empty_input"
	KindUpstreamUnavailable = "upstream_unavailable"
	KindModelTimeout        = "model_timeout"
	KindModelUnavailable    = "model_unavailable"
	KindMalformedResponse   = "malformed_response"
	KindIncompleteResult    = "incomplete_result"
	KindIndexUnavailable    = "index_unavailable"
	KindUnsupportedFormat   = "unsupported_format"
	KindExtractionFailed    = "extraction_failed"
)

// Error is a typed collaborator or pipeline failure. Raw carries the
// offending model reply for malformed_response so it is available for
// diagnostics without ever reaching a rendered report.
type Error struct {
	Kind    string
	Message string
	Raw     string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the error kind of err, or "" when err carries none.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusForKind maps an error kind onto the HTTP status the entry point
// reports. Malformed or missing caller input is a client error; upstream
// and model failures are server errors.
func StatusForKind(kind string) int {
	switch kind {
	case KindEmptyInput, KindUnsupportedFormat:
		return 400
	case KindModelTimeout:
		return 504
	case KindUpstreamUnavailable, KindIndexUnavailable, KindModelUnavailable:
		return 502
	case KindMalformedResponse, KindIncompleteResult, KindExtractionFailed:
		return 500
	default:
		return 500
	}
}

// StageError tags a pipeline failure with the stage it originated in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}
