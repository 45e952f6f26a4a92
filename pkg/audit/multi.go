package audit

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MultiLog fans an event out to several sinks, typically the canonical
// FileLog plus a DBLog mirror. Sinks receive the event concurrently; any
// failure is reported, but other sinks still get the write.
type MultiLog struct {
	sinks []Sink
}

// NewMultiLog creates a fanout sink.
func NewMultiLog(sinks ...Sink) *MultiLog {
	return &MultiLog{sinks: sinks}
}

// Log writes the event to every sink. A plain group (no shared cancel) so a
// failing sink cannot abort the others mid-write.
func (m *MultiLog) Log(ctx context.Context, event *Event) error {
	var g errgroup.Group
	for _, sink := range m.sinks {
		sink := sink
		g.Go(func() error {
			return sink.Log(ctx, event)
		})
	}
	return g.Wait()
}

// Close closes all sinks, returning the first error.
func (m *MultiLog) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
