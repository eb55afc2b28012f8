package pipeline

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable class of a pipeline failure.
type Kind string

const (
	KindInvalidLanguage     Kind = "invalid_language"
	KindSegmentationFailure Kind = "segmentation_failure"
	KindAllSegmentsFailed   Kind = "all_segments_failed"
	KindDegraded            Kind = "partial_recognition_degraded"
	KindTimeout             Kind = "timeout"
	KindInternalMerge       Kind = "internal_merge_failure"
)

// Error is a pipeline-level failure. Only InvalidLanguage, SegmentationFailure,
// AllSegmentsFailed and InternalMergeFailure abort a run; the other kinds
// label segment outcomes and metrics.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of a pipeline error, or "" if err is not one.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
