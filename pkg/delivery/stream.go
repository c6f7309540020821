package delivery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Event names emitted by StreamProgress.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// ProgressEvent is sent after every page.
type ProgressEvent struct {
	PostsProcessed int `json:"posts_processed"`
	CurrentBatch   int `json:"current_batch"`
}

// CompleteEvent is the terminal event of a successful retrieval.
type CompleteEvent struct {
	Filename       string `json:"filename"`
	PostsProcessed int    `json:"posts_processed"`
}

// ErrorEvent is the terminal event of a failed retrieval.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Sink receives named events.
type Sink interface {
	Send(event string, data any) error
}

// StreamProgress drains it, emitting one progress event per page and then
// exactly one terminal complete or error event. It returns a non-nil error
// only when the sink fails, in which case no further pages are fetched.
func StreamProgress(ctx context.Context, it Iterator, filename string, sink Sink) error {
	processed := 0
	for it.Next(ctx) {
		batch := len(it.Page().Posts)
		processed += batch
		if err := sink.Send(EventProgress, ProgressEvent{
			PostsProcessed: processed,
			CurrentBatch:   batch,
		}); err != nil {
			record(ModeProgress, it, context.Canceled)
			return fmt.Errorf("send progress: %w", err)
		}
	}

	err := it.Err()
	record(ModeProgress, it, err)

	if err != nil {
		log.Warn().
			Err(err).
			Str("outcome", Outcome(err)).
			Int("posts_processed", processed).
			Msg("Progress stream ended with error")
		if sendErr := sink.Send(EventError, ErrorEvent{Message: Describe(err)}); sendErr != nil {
			return fmt.Errorf("send error event: %w", sendErr)
		}
		return nil
	}

	if sendErr := sink.Send(EventComplete, CompleteEvent{
		Filename:       filename,
		PostsProcessed: processed,
	}); sendErr != nil {
		return fmt.Errorf("send complete event: %w", sendErr)
	}
	return nil
}
