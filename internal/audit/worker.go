package audit

import (
	"context"

	"certfsm/internal/certificate/models"
)

// Worker consumes transition records from a channel and forwards them to a
// recorder. It decouples slow sinks (Kafka, Postgres) from the trigger path.
type Worker struct {
	recorder Recorder
	inbox    <-chan models.TransitionRecord
}

func NewWorker(recorder Recorder, inbox <-chan models.TransitionRecord) *Worker {
	return &Worker{recorder: recorder, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-w.inbox:
			if err := w.recorder.Record(ctx, rec); err != nil {
				return err
			}
		}
	}
}

// ChannelRecorder feeds a Worker's inbox. Record drops nothing: it blocks
// until the worker accepts the record or the context is cancelled.
type ChannelRecorder struct {
	outbox chan<- models.TransitionRecord
}

func NewChannelRecorder(outbox chan<- models.TransitionRecord) *ChannelRecorder {
	return &ChannelRecorder{outbox: outbox}
}

func (r *ChannelRecorder) Record(ctx context.Context, rec models.TransitionRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.outbox <- rec:
		return nil
	}
}
