package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"chatline/internal/api"
	"chatline/internal/history"
	"chatline/internal/logging"
	"chatline/internal/store"
	"chatline/internal/stream"
	"chatline/internal/types"
)

var (
	// ErrBusy rejects a send while another turn is still streaming.
	ErrBusy = errors.New("a turn is already streaming")

	// ErrNotRegenerable rejects regeneration of a message that never got a
	// durable server id. Raised before any network call.
	ErrNotRegenerable = errors.New("message has no durable id and cannot be regenerated")
)

// Backend is the slice of the wire client the orchestrator needs. api.Client
// implements it.
type Backend interface {
	StreamGuestMessage(ctx context.Context, message, model, sessionID string) (io.ReadCloser, error)
	StreamThreadMessage(ctx context.Context, threadID, message, model string) (io.ReadCloser, error)
	StreamProjectMessage(ctx context.Context, projectID, threadID, message, model string) (io.ReadCloser, error)
	StreamGuestMessageWithFile(ctx context.Context, message, model, sessionID string, att api.Attachment) (io.ReadCloser, error)
	StreamThreadMessageWithFile(ctx context.Context, threadID, message, model string, att api.Attachment) (io.ReadCloser, error)
	StreamProjectMessageWithFile(ctx context.Context, projectID, threadID, message, model string, att api.Attachment) (io.ReadCloser, error)
	StreamRegenerate(ctx context.Context, messageID, model string) (io.ReadCloser, error)
	GetThreadDetails(ctx context.Context, threadID string) (types.Thread, error)
}

// SendOptions tune one turn.
type SendOptions struct {
	Model string
	Hints Hints
}

// TurnResult reports the outcome of a completed turn.
type TurnResult struct {
	Turn      string
	Text      string
	Finalized bool
}

// Orchestrator runs one turn at a time against the backend, keeping the
// store consistent through every phase.
type Orchestrator struct {
	store        *store.Store
	backend      Backend
	resolver     *Resolver
	archive      *history.Archive
	defaultModel string
	turnTimeout  time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	onUpdate func()
}

func NewOrchestrator(st *store.Store, backend Backend, resolver *Resolver, archive *history.Archive, defaultModel string, turnTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:        st,
		backend:      backend,
		resolver:     resolver,
		archive:      archive,
		defaultModel: defaultModel,
		turnTimeout:  turnTimeout,
	}
}

// Send runs a plain-text turn.
func (o *Orchestrator) Send(ctx context.Context, text string, opts SendOptions) (TurnResult, error) {
	return o.send(ctx, text, nil, opts)
}

// SendFile runs a turn with an attachment. Validation happens in the wire
// client before any bytes are sent.
func (o *Orchestrator) SendFile(ctx context.Context, text string, att api.Attachment, opts SendOptions) (TurnResult, error) {
	return o.send(ctx, text, &att, opts)
}

// Cancel aborts the in-flight turn, if any. The decoder's read loop exits
// via the request context; the placeholder is frozen, never finalized.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) send(ctx context.Context, text string, att *api.Attachment, opts SendOptions) (TurnResult, error) {
	if !o.acquire() {
		return TurnResult{}, ErrBusy
	}
	timer := logging.StartTimer(logging.CategoryStream, "turn")
	defer timer.Stop()

	model := o.pickModel(opts.Model)
	turn := types.NewTempTurnID()
	user := types.NewUserMessage(turn, text, model)
	if att != nil {
		user.HasAttachment = true
		user.AttachmentName = att.Name
		user.AttachmentSize = int64(len(att.Data))
	}
	placeholder := types.NewStreamingPlaceholder(turn, model)

	o.store.Dispatch(store.ClearErrors{})
	o.store.Dispatch(store.AddMessage{Message: user})
	o.store.Dispatch(store.AddMessage{Message: placeholder})

	route, err := o.resolver.Resolve(opts.Hints)
	if err != nil {
		o.failSend(err)
		return TurnResult{}, err
	}

	ctx, done := o.turnContext(ctx)
	defer done()

	body, err := o.openLane(ctx, route, text, model, att)
	if err != nil {
		o.failSend(err)
		return TurnResult{}, err
	}
	defer body.Close()

	result, err := o.drive(ctx, body, placeholder.ID, func(md stream.Metadata) {
		o.resolver.ApplyStart(route, md)
	})
	if err != nil {
		// Stream-level failure: keep the stub with the partial text so the
		// user retains context for a retry. A user-initiated cancel is not
		// a failure and fills no error slot.
		o.store.Dispatch(store.FreezeMessage{ID: placeholder.ID, Text: result.Text})
		if errors.Is(err, context.Canceled) {
			o.release()
		} else {
			o.store.Dispatch(store.SetStreamError{Message: err.Error()})
		}
		return TurnResult{Turn: turn, Text: result.Text}, err
	}

	finalTurn := o.finalize(turn, placeholder.ID, result)
	o.resolver.ApplyCompletion(ctx, route, result.Metadata)
	o.record(ctx, finalTurn, route, model, text, result.Text)

	o.release()
	return TurnResult{Turn: finalTurn, Text: result.Text, Finalized: result.Finalized}, nil
}

// Regenerate asks the server to re-answer an earlier turn. The durable
// parent id is derived locally first; a message that never reached the
// server is refused without touching the network.
func (o *Orchestrator) Regenerate(ctx context.Context, msgID types.MessageID, modelOverride string) (TurnResult, error) {
	parent, err := o.durableParent(msgID)
	if err != nil {
		o.store.Dispatch(store.SetRegenError{Message: err.Error()})
		return TurnResult{}, err
	}

	if !o.acquire() {
		return TurnResult{}, ErrBusy
	}
	timer := logging.StartTimer(logging.CategoryStream, "regeneration")
	defer timer.Stop()

	model := o.pickModel(modelOverride)
	stub := types.NewStreamingPlaceholder(types.NewRegenTurnID(), model)
	stub.IsRegenerated = true
	stub.ParentTurn = parent

	o.store.Dispatch(store.ClearRegenError{})
	o.store.Dispatch(store.AddMessage{Message: stub})

	ctx, done := o.turnContext(ctx)
	defer done()

	wireID := types.MessageID{Turn: parent, Role: types.RoleAssistant}.String()
	body, err := o.backend.StreamRegenerate(ctx, wireID, model)
	if err != nil {
		o.failRegen(stub.ID, err)
		return TurnResult{}, err
	}
	defer body.Close()

	result, err := o.drive(ctx, body, stub.ID, nil)
	if err != nil {
		// The original answer stays; only the failed stub goes away.
		o.failRegen(stub.ID, err)
		return TurnResult{}, err
	}

	// The server reports the completion under the parent turn's id, which
	// the original assistant message already holds. The stub keeps its own
	// id and is only frozen.
	o.store.Dispatch(store.FreezeMessage{ID: stub.ID, Text: result.Text})
	o.record(ctx, stub.ID.Turn, nil, model, "", result.Text)

	o.release()
	return TurnResult{Turn: stub.ID.Turn, Text: result.Text, Finalized: result.Finalized}, nil
}

// durableParent recovers the turn id the server knows a message by.
func (o *Orchestrator) durableParent(msgID types.MessageID) (string, error) {
	if msg, ok := o.store.Snapshot().FindMessage(msgID); ok && msg.IsRegenerated && msg.ParentTurn != "" {
		return msg.ParentTurn, nil
	}
	if types.IsDurableTurn(msgID.Turn) {
		return msgID.Turn, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotRegenerable, msgID)
}

func (o *Orchestrator) openLane(ctx context.Context, route Route, text, model string, att *api.Attachment) (io.ReadCloser, error) {
	switch rt := route.(type) {
	case GuestRoute:
		if att != nil {
			return o.backend.StreamGuestMessageWithFile(ctx, text, model, rt.SessionID, *att)
		}
		return o.backend.StreamGuestMessage(ctx, text, model, rt.SessionID)
	case ThreadRoute:
		if att != nil {
			return o.backend.StreamThreadMessageWithFile(ctx, rt.ThreadID, text, model, *att)
		}
		return o.backend.StreamThreadMessage(ctx, rt.ThreadID, text, model)
	case ProjectRoute:
		if att != nil {
			return o.backend.StreamProjectMessageWithFile(ctx, rt.ProjectID, rt.ThreadID, text, model, *att)
		}
		return o.backend.StreamProjectMessage(ctx, rt.ProjectID, rt.ThreadID, text, model)
	}
	return nil, fmt.Errorf("unknown route %T", route)
}

// drive consumes the decoded event feed, applying each chunk to the
// placeholder in arrival order and notifying the update hook after each one.
func (o *Orchestrator) drive(ctx context.Context, body io.Reader, id types.MessageID, onMeta func(stream.Metadata)) (stream.Result, error) {
	events, errc := stream.Events(ctx, body)

	var res stream.Result
	for evt := range events {
		switch evt.Type {
		case stream.EventStart:
			if evt.Metadata != nil && !evt.Metadata.Empty() && onMeta != nil {
				onMeta(*evt.Metadata)
			}
		case stream.EventChunk:
			res.Text = evt.Accumulated
			o.store.Dispatch(store.UpdateMessageText{ID: id, Text: evt.Accumulated, Streaming: true})
			o.notifyUpdate()
		case stream.EventComplete:
			res.Text = evt.FullResponse
			if evt.Metadata != nil {
				res.Metadata = *evt.Metadata
			}
			res.Finalized = true
		}
	}
	if err := <-errc; err != nil {
		return res, err
	}
	return res, nil
}

// finalize reconciles ids after a complete event. Without a durable server
// id (or without a complete event at all) the placeholder keeps its temp id
// and is only frozen.
func (o *Orchestrator) finalize(tempTurn string, id types.MessageID, result stream.Result) string {
	if result.Finalized && result.Metadata.MessageID != "" {
		o.store.Dispatch(store.FinalizeTurn{
			TempTurn:    tempTurn,
			DurableTurn: result.Metadata.MessageID,
			Text:        result.Text,
		})
		return result.Metadata.MessageID
	}
	o.store.Dispatch(store.FreezeMessage{ID: id, Text: result.Text})
	return tempTurn
}

// record archives a finished turn locally. Failures are logged, never
// surfaced: history is an amenity.
func (o *Orchestrator) record(ctx context.Context, turn string, route Route, model, prompt, response string) {
	if o.archive == nil {
		return
	}
	var threadID string
	switch rt := route.(type) {
	case ThreadRoute:
		threadID = rt.ThreadID
	case ProjectRoute:
		threadID = rt.ThreadID
	}
	if err := o.archive.RecordTurn(ctx, turn, threadID, model, prompt, response); err != nil {
		logging.History("failed to record turn %s: %v", turn, err)
	}
}

func (o *Orchestrator) pickModel(override string) string {
	if override != "" {
		return override
	}
	if sel := o.store.Snapshot().SelectedModel; sel != "" {
		return sel
	}
	return o.defaultModel
}

// turnContext applies the default turn deadline unless the caller brought
// its own, and registers the cancel hook for Cancel.
func (o *Orchestrator) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok && o.turnTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	return ctx, func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		cancel()
	}
}

// SetOnUpdate registers a hook invoked after each streamed chunk lands in
// the store. The TUI uses it to repaint without polling.
func (o *Orchestrator) SetOnUpdate(fn func()) {
	o.mu.Lock()
	o.onUpdate = fn
	o.mu.Unlock()
}

func (o *Orchestrator) notifyUpdate() {
	o.mu.Lock()
	fn := o.onUpdate
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.store.Snapshot().Busy {
		return false
	}
	o.store.Dispatch(store.SetBusy{Busy: true})
	return true
}

func (o *Orchestrator) release() {
	o.store.Dispatch(store.SetBusy{Busy: false})
}

// failSend marks a pre-stream failure. The stub stays visible so the user
// keeps the context for a retry.
func (o *Orchestrator) failSend(err error) {
	o.store.Dispatch(store.SetSendError{Message: err.Error()})
}

func (o *Orchestrator) failRegen(id types.MessageID, err error) {
	o.store.Dispatch(store.RemoveMessage{ID: id})
	if !errors.Is(err, context.Canceled) {
		o.store.Dispatch(store.SetRegenError{Message: err.Error()})
	}
	o.release()
}
