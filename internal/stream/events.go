package stream

import (
	"context"
	"io"
)

// Events decodes r into a channel of events, for consumers that want a
// pull-style feed instead of callbacks. Both channels close when
// the stream terminates; at most one error is sent. The goroutine exits
// promptly when ctx is cancelled.
//
// The terminal complete event is delivered on the event channel like any
// other, so consumers see the full sequence in arrival order.
func Events(ctx context.Context, r io.Reader) (<-chan Event, <-chan error) {
	events := make(chan Event, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errc)

		send := func(evt Event) bool {
			select {
			case events <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		h := Handlers{
			OnStart: func(evt Event) {
				send(evt)
			},
			OnChunk: func(content, accumulated string) {
				send(Event{Type: EventChunk, Content: content, Accumulated: accumulated})
			},
			OnComplete: func(text string, md Metadata) {
				send(Event{Type: EventComplete, FullResponse: text, Metadata: &md})
			},
		}

		if _, err := h.Decode(ctx, r); err != nil {
			errc <- err
		}
	}()

	return events, errc
}
