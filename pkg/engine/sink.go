package engine

import (
	"context"

	"github.com/taxis-ai/taxis/pkg/core"
	"github.com/taxis-ai/taxis/pkg/memory"
)

// multiSink fans an event out to every sink.
type multiSink []core.EventSink

func (m multiSink) Append(ctx context.Context, event core.Event) {
	for _, s := range m {
		s.Append(ctx, event)
	}
}

// stateSink appends events to the run's short-term event log.
type stateSink struct {
	state *memory.RunState
}

func (s stateSink) Append(_ context.Context, event core.Event) {
	s.state.AppendEvent(event)
}
