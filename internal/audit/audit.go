package audit

import (
	"context"

	"certfsm/internal/certificate/models"
	"certfsm/internal/certificate/store"
)

// Recorder captures transition records as they happen. Implementations must
// be safe for concurrent use; the engine records every trigger invocation,
// rejected ones included.
type Recorder interface {
	Record(ctx context.Context, rec models.TransitionRecord) error
}

// StoreRecorder persists records through a RecordStore. It is append-only
// and uses the storage layer directly so tests can swap sinks easily.
type StoreRecorder struct {
	store store.RecordStore
}

func NewStoreRecorder(s store.RecordStore) *StoreRecorder {
	return &StoreRecorder{store: s}
}

func (r *StoreRecorder) Record(ctx context.Context, rec models.TransitionRecord) error {
	return r.store.Append(ctx, rec)
}

// Fanout forwards every record to all wrapped recorders. The first error
// stops the fanout; the trail store should come first so a flaky downstream
// sink cannot lose the authoritative copy.
type Fanout struct {
	recorders []Recorder
}

func NewFanout(recorders ...Recorder) *Fanout {
	return &Fanout{recorders: recorders}
}

func (f *Fanout) Record(ctx context.Context, rec models.TransitionRecord) error {
	for _, r := range f.recorders {
		if err := r.Record(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
