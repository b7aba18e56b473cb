// Package pipeline runs one staged recording through transcription,
// formatting, note writing and notification.
package pipeline

import "context"

// Transcriber turns an audio file into plain text.
type Transcriber interface {
	// Transcribe returns the transcript of the audio file at audioPath.
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Formatter rewrites a transcript according to an instruction.
type Formatter interface {
	// Format returns text rewritten according to instruction.
	Format(ctx context.Context, instruction, text string) (string, error)
}

// Writer stores a finished note.
type Writer interface {
	// Write saves text as a note derived from sourcePath and returns the created file's path.
	Write(ctx context.Context, sourcePath, text string) (string, error)
}

// Notifier delivers a short human-readable message.
type Notifier interface {
	// Notify sends message with the given title. Delivery is best effort.
	Notify(ctx context.Context, title, message string) error
}
