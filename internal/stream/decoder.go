package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatline/internal/logging"
)

const dataPrefix = "data:"

// Handlers receive decoded events as they arrive. Any handler may be nil.
type Handlers struct {
	// OnStart fires for the start event.
	OnStart func(Event)
	// OnMetadata fires when a start event carries routing metadata, before
	// any chunk arrives (early identifier extraction).
	OnMetadata func(Metadata)
	// OnChunk fires per chunk with the delta and the accumulator so far.
	OnChunk func(content, accumulated string)
	// OnComplete fires once with the final text and metadata.
	OnComplete func(text string, md Metadata)
	// OnError fires for a wire error event or a mid-stream failure.
	OnError func(error)
}

// Open checks the HTTP status before any stream bytes are consumed. A non-2xx
// response fails fast with the body as error detail; otherwise the body is
// returned for decoding.
func Open(resp *http.Response) (io.ReadCloser, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, fmt.Errorf("stream request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

// Decode reads the event stream until a terminal event or EOF. Chunk content
// is accumulated in arrival order. Malformed records are logged and skipped;
// they never abort the stream. A clean EOF without a complete event returns
// the accumulated text with Finalized=false and no error.
//
// Cancellation is cooperative: the caller owns r. When r is an http response
// body created with a request context, cancelling that context unblocks the
// read; Decode then surfaces ctx.Err().
func (h Handlers) Decode(ctx context.Context, r io.Reader) (Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var accumulated strings.Builder

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return Result{Text: accumulated.String()}, err
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if data == "" {
			continue
		}

		var evt Event
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			logging.StreamWarn("skipping malformed record: %v", err)
			continue
		}

		switch evt.Type {
		case EventStart:
			if h.OnStart != nil {
				h.OnStart(evt)
			}
			if evt.Metadata != nil && !evt.Metadata.Empty() && h.OnMetadata != nil {
				h.OnMetadata(*evt.Metadata)
			}

		case EventChunk:
			accumulated.WriteString(evt.Content)
			if h.OnChunk != nil {
				h.OnChunk(evt.Content, accumulated.String())
			}

		case EventComplete:
			text := evt.FullResponse
			if text == "" {
				text = accumulated.String()
			}
			var md Metadata
			if evt.Metadata != nil {
				md = *evt.Metadata
			}
			if h.OnComplete != nil {
				h.OnComplete(text, md)
			}
			return Result{Text: text, Metadata: md, Finalized: true}, nil

		case EventError:
			err := fmt.Errorf("stream error: %s", evt.Err)
			if h.OnError != nil {
				h.OnError(err)
			}
			return Result{Text: accumulated.String()}, err

		default:
			// Unknown event types are skipped for forward compatibility.
			logging.StreamDebug("unknown event type %q", evt.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Text: accumulated.String()}, ctxErr
		}
		wrapped := fmt.Errorf("reading stream: %w", err)
		if h.OnError != nil {
			h.OnError(wrapped)
		}
		return Result{Text: accumulated.String()}, wrapped
	}

	// Stream ended without a complete event. Return what accumulated; the
	// caller treats this as a soft failure and skips reconciliation.
	logging.StreamWarn("stream ended without complete event (%d bytes accumulated)", accumulated.Len())
	return Result{Text: accumulated.String(), Finalized: false}, nil
}
