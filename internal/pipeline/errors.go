package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure by the step that produced it.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindDownload     Kind = "download"
	KindProbe        Kind = "probe"
	KindExtraction   Kind = "extraction"
	KindSegmentation Kind = "segmentation"
	KindUpload       Kind = "upload"
	KindPersistence  Kind = "persistence"
	KindInternal     Kind = "internal"
)

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrDownload     = &Error{Kind: KindDownload}
	ErrProbe        = &Error{Kind: KindProbe}
	ErrExtraction   = &Error{Kind: KindExtraction}
	ErrSegmentation = &Error{Kind: KindSegmentation}
	ErrUpload       = &Error{Kind: KindUpload}
	ErrPersistence  = &Error{Kind: KindPersistence}
	ErrInternal     = &Error{Kind: KindInternal}
)

// Error is a classified pipeline failure. Its message is what ends up in a
// video's processing_error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op
	default:
		return string(e.Kind) + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels: a target *Error with no Op and no Err matches on
// Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}
