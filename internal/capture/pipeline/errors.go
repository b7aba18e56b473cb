package pipeline

import (
	"errors"
	"fmt"
)

// Kind identifies the pipeline step that failed.
type Kind int

const (
	TranscriptionFailed Kind = iota + 1
	FormattingFailed
	WriteFailed
	NotificationFailed
)

// Sentinels matching each Kind, for use with errors.Is.
var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrFormattingFailed    = errors.New("formatting failed")
	ErrWriteFailed         = errors.New("write failed")
	ErrNotificationFailed  = errors.New("notification failed")
)

func (k Kind) String() string {
	switch k {
	case TranscriptionFailed:
		return "TranscriptionFailed"
	case FormattingFailed:
		return "FormattingFailed"
	case WriteFailed:
		return "WriteFailed"
	case NotificationFailed:
		return "NotificationFailed"
	default:
		return "Unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case TranscriptionFailed:
		return ErrTranscriptionFailed
	case FormattingFailed:
		return ErrFormattingFailed
	case WriteFailed:
		return ErrWriteFailed
	case NotificationFailed:
		return ErrNotificationFailed
	default:
		return errors.New("pipeline failed")
	}
}

// StageError records which step failed for which file.
type StageError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind.sentinel(), e.Path, e.Err)
}

// Unwrap exposes both the kind's sentinel and the underlying cause.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf returns the Kind of the first StageError in err's chain, or 0.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
