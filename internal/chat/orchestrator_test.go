package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"chatline/internal/api"
	"chatline/internal/session"
	"chatline/internal/store"
	"chatline/internal/types"
)

const durableTurn = "123e4567-e89b-12d3-a456-426614174000"

// fakeBackend records calls and plays back a canned stream.
type fakeBackend struct {
	body      string
	openErr   error
	threads   map[string]types.Thread
	threadErr error
	calls     []string
}

func (f *fakeBackend) open(call string) (io.ReadCloser, error) {
	f.calls = append(f.calls, call)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *fakeBackend) StreamGuestMessage(_ context.Context, msg, model, sessionID string) (io.ReadCloser, error) {
	return f.open("guest:" + sessionID)
}

func (f *fakeBackend) StreamThreadMessage(_ context.Context, threadID, msg, model string) (io.ReadCloser, error) {
	return f.open("thread:" + threadID)
}

func (f *fakeBackend) StreamProjectMessage(_ context.Context, projectID, threadID, msg, model string) (io.ReadCloser, error) {
	return f.open(fmt.Sprintf("project:%s:%s", projectID, threadID))
}

func (f *fakeBackend) StreamGuestMessageWithFile(_ context.Context, msg, model, sessionID string, att api.Attachment) (io.ReadCloser, error) {
	return f.open("guest-file:" + att.Name)
}

func (f *fakeBackend) StreamThreadMessageWithFile(_ context.Context, threadID, msg, model string, att api.Attachment) (io.ReadCloser, error) {
	return f.open("thread-file:" + threadID)
}

func (f *fakeBackend) StreamProjectMessageWithFile(_ context.Context, projectID, threadID, msg, model string, att api.Attachment) (io.ReadCloser, error) {
	return f.open("project-file:" + projectID)
}

func (f *fakeBackend) StreamRegenerate(_ context.Context, messageID, model string) (io.ReadCloser, error) {
	return f.open("regen:" + messageID)
}

func (f *fakeBackend) GetThreadDetails(_ context.Context, threadID string) (types.Thread, error) {
	f.calls = append(f.calls, "details:"+threadID)
	if f.threadErr != nil {
		return types.Thread{}, f.threadErr
	}
	if t, ok := f.threads[threadID]; ok {
		return t, nil
	}
	return types.Thread{}, errors.New("thread not found")
}

func completeStream(text, metaJSON string) string {
	var b strings.Builder
	for _, word := range strings.Fields(text) {
		fmt.Fprintf(&b, "data: {\"type\":\"chunk\",\"content\":%q}\n", word+" ")
	}
	fmt.Fprintf(&b, "data: {\"type\":\"complete\",\"fullResponse\":%q,\"metadata\":%s}\n", text, metaJSON)
	return b.String()
}

func newHarness(t *testing.T, backend *fakeBackend) (*Orchestrator, *store.Store) {
	t.Helper()
	st := store.New()
	sess := session.NewManager(t.TempDir())
	resolver := NewResolver(st, sess, backend)
	o := NewOrchestrator(st, backend, resolver, nil, "gpt-4", time.Minute)
	return o, st
}

func TestGuestTurnPromotedToThread(t *testing.T) {
	backend := &fakeBackend{
		body: completeStream("hello there",
			`{"messageId":"`+durableTurn+`","chatId":"c1"}`),
		threads: map[string]types.Thread{"c1": {ID: "c1", Name: "hello"}},
	}
	o, st := newHarness(t, backend)

	res, err := o.Send(context.Background(), "hello", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Finalized || res.Turn != durableTurn {
		t.Errorf("result = %+v", res)
	}

	s := st.Snapshot()
	if s.CurrentThread == nil || s.CurrentThread.ID != "c1" {
		t.Errorf("promotion did not set current thread: %+v", s.CurrentThread)
	}
	if _, ok := s.FindMessage(types.MessageID{Turn: durableTurn, Role: types.RoleUser}); !ok {
		t.Error("user half not reconciled to durable id")
	}
	ai, ok := s.FindMessage(types.MessageID{Turn: durableTurn, Role: types.RoleAssistant})
	if !ok {
		t.Fatal("assistant half not reconciled to durable id")
	}
	if ai.Text != "hello there" || ai.IsStreaming {
		t.Errorf("assistant = %+v", ai)
	}
	if s.Busy {
		t.Error("busy flag still set after turn")
	}
}

func TestPromotionLookupFailureIsSwallowed(t *testing.T) {
	backend := &fakeBackend{
		body:      completeStream("hi", `{"messageId":"`+durableTurn+`","chatId":"c1"}`),
		threadErr: errors.New("lookup failed"),
	}
	o, st := newHarness(t, backend)

	_, err := o.Send(context.Background(), "hi", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if st.Snapshot().CurrentThread != nil {
		t.Error("failed promotion must leave the chat a guest chat")
	}
}

func TestBusyGuardRejectsOverlappingTurn(t *testing.T) {
	o, st := newHarness(t, &fakeBackend{})
	st.Dispatch(store.SetBusy{Busy: true})

	_, err := o.Send(context.Background(), "again", SendOptions{})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestSendFailureKeepsStub(t *testing.T) {
	backend := &fakeBackend{openErr: errors.New("connection refused")}
	o, st := newHarness(t, backend)

	_, err := o.Send(context.Background(), "hi", SendOptions{})
	if err == nil {
		t.Fatal("expected send failure")
	}

	s := st.Snapshot()
	if len(s.Messages) != 2 {
		t.Errorf("messages = %d, want stub pair kept for retry", len(s.Messages))
	}
	if s.SendErr == "" {
		t.Error("send error slot empty")
	}
	if s.Busy {
		t.Error("busy flag still set after failure")
	}
}

func TestStreamErrorFreezesStubWithPartialText(t *testing.T) {
	backend := &fakeBackend{
		body: "data: {\"type\":\"chunk\",\"content\":\"partial \"}\n" +
			"data: {\"type\":\"error\",\"error\":\"model overloaded\"}\n",
	}
	o, st := newHarness(t, backend)

	_, err := o.Send(context.Background(), "hi", SendOptions{})
	if err == nil {
		t.Fatal("expected stream error")
	}

	s := st.Snapshot()
	if s.StreamErr == "" {
		t.Error("stream error slot empty")
	}
	if s.SendErr != "" {
		t.Errorf("stream failure leaked into send slot: %q", s.SendErr)
	}
	if len(s.Messages) != 2 {
		t.Fatalf("messages = %d, want stub kept", len(s.Messages))
	}
	ai := s.Messages[1]
	if ai.IsStreaming || ai.Text != "partial " {
		t.Errorf("assistant stub = %+v, want frozen partial", ai)
	}
}

func TestEndWithoutCompleteFreezesWithoutReconciliation(t *testing.T) {
	backend := &fakeBackend{
		body: "data: {\"type\":\"chunk\",\"content\":\"half an answer\"}\n",
	}
	o, st := newHarness(t, backend)

	res, err := o.Send(context.Background(), "hi", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Finalized {
		t.Error("missing complete event must not finalize")
	}

	s := st.Snapshot()
	ai := s.Messages[1]
	if ai.ID.Durable() {
		t.Errorf("placeholder reconciled without a complete event: %+v", ai.ID)
	}
	if ai.IsStreaming || ai.Text != "half an answer" {
		t.Errorf("assistant = %+v", ai)
	}
}

func TestRegenerateDerivesDurableParent(t *testing.T) {
	backend := &fakeBackend{
		body: completeStream("better answer", `{"messageId":"`+durableTurn+`"}`),
	}
	o, st := newHarness(t, backend)

	msgID := types.MessageID{Turn: durableTurn, Role: types.RoleAssistant}
	st.Dispatch(store.AddMessage{Message: types.Message{ID: msgID, Text: "first answer"}})

	_, err := o.Regenerate(context.Background(), msgID, "")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	want := "regen:" + durableTurn + "-ai"
	if len(backend.calls) == 0 || backend.calls[0] != want {
		t.Errorf("calls = %v, want first %q", backend.calls, want)
	}
}

func TestRegenerateOfPriorRegenerationUsesParentTurn(t *testing.T) {
	backend := &fakeBackend{
		body: completeStream("third try", `{"messageId":"`+durableTurn+`"}`),
	}
	o, st := newHarness(t, backend)

	prior := types.Message{
		ID:            types.MessageID{Turn: "regen-old", Role: types.RoleAssistant},
		IsRegenerated: true,
		ParentTurn:    durableTurn,
	}
	st.Dispatch(store.AddMessage{Message: prior})

	_, err := o.Regenerate(context.Background(), prior.ID, "")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	want := "regen:" + durableTurn + "-ai"
	if backend.calls[0] != want {
		t.Errorf("calls = %v, want %q", backend.calls, want)
	}
}

func TestRegenerateKeepsOriginalWhenServerEchoesParentID(t *testing.T) {
	backend := &fakeBackend{
		body: completeStream("better answer", `{"messageId":"`+durableTurn+`"}`),
	}
	o, st := newHarness(t, backend)

	orig := types.MessageID{Turn: durableTurn, Role: types.RoleAssistant}
	st.Dispatch(store.AddMessage{Message: types.Message{ID: orig, Text: "first answer"}})

	res, err := o.Regenerate(context.Background(), orig, "")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	s := st.Snapshot()
	seen := map[types.MessageID]int{}
	for _, msg := range s.Messages {
		seen[msg.ID]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("id %s appears %d times", id, n)
		}
	}

	first, ok := s.FindMessage(orig)
	if !ok {
		t.Fatal("original answer gone")
	}
	if first.Text != "first answer" {
		t.Errorf("original text = %q, want untouched", first.Text)
	}

	regen, ok := s.FindMessage(types.MessageID{Turn: res.Turn, Role: types.RoleAssistant})
	if !ok {
		t.Fatalf("regenerated answer not found under turn %q", res.Turn)
	}
	if regen.Text != "better answer" || regen.IsStreaming || !regen.IsRegenerated {
		t.Errorf("regenerated message = %+v", regen)
	}
	if regen.ParentTurn != durableTurn {
		t.Errorf("ParentTurn = %q, want %q", regen.ParentTurn, durableTurn)
	}
}

func TestChunkUpdatesNotifyHook(t *testing.T) {
	backend := &fakeBackend{body: completeStream("one two three", `{}`)}
	o, _ := newHarness(t, backend)

	var notifications int
	o.SetOnUpdate(func() { notifications++ })

	if _, err := o.Send(context.Background(), "hi", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if notifications != 3 {
		t.Errorf("notifications = %d, want one per chunk", notifications)
	}
}

func TestRegenerateTempIDFailsLocally(t *testing.T) {
	backend := &fakeBackend{}
	o, st := newHarness(t, backend)

	tempID := types.MessageID{Turn: "temp-abc", Role: types.RoleAssistant}
	st.Dispatch(store.AddMessage{Message: types.Message{ID: tempID, Text: "never sent"}})

	_, err := o.Regenerate(context.Background(), tempID, "")
	if !errors.Is(err, ErrNotRegenerable) {
		t.Fatalf("err = %v, want ErrNotRegenerable", err)
	}
	if len(backend.calls) != 0 {
		t.Errorf("refusal must happen before any network call, got %v", backend.calls)
	}
	if st.Snapshot().RegenErr == "" {
		t.Error("regen error slot empty")
	}
}

func TestRegenerateFailureRemovesStubKeepsOriginal(t *testing.T) {
	backend := &fakeBackend{
		body: "data: {\"type\":\"error\",\"error\":\"backend down\"}\n",
	}
	o, st := newHarness(t, backend)

	orig := types.MessageID{Turn: durableTurn, Role: types.RoleAssistant}
	st.Dispatch(store.AddMessage{Message: types.Message{ID: orig, Text: "original answer"}})

	_, err := o.Regenerate(context.Background(), orig, "")
	if err == nil {
		t.Fatal("expected regeneration failure")
	}

	s := st.Snapshot()
	if len(s.Messages) != 1 {
		t.Fatalf("messages = %d, want only the original", len(s.Messages))
	}
	if s.Messages[0].Text != "original answer" {
		t.Errorf("original message lost: %+v", s.Messages[0])
	}
	if s.RegenErr == "" {
		t.Error("regen error slot empty")
	}
	if s.SendErr != "" || s.StreamErr != "" {
		t.Error("regen failure leaked into turn-send error slots")
	}
}

func TestSendFileMarksAttachment(t *testing.T) {
	backend := &fakeBackend{
		body: completeStream("got it", `{"messageId":"`+durableTurn+`"}`),
	}
	o, st := newHarness(t, backend)

	att := api.Attachment{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hello")}
	_, err := o.SendFile(context.Background(), "see attached", att, SendOptions{})
	if err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	if backend.calls[0] != "guest-file:notes.txt" {
		t.Errorf("calls = %v", backend.calls)
	}
	user := st.Snapshot().Messages[0]
	if !user.HasAttachment || user.AttachmentName != "notes.txt" || user.AttachmentSize != 5 {
		t.Errorf("user message = %+v", user)
	}
}

func TestCancelFreezesPlaceholder(t *testing.T) {
	// A live pipe stands in for the response body; it only unblocks when the
	// turn is cancelled.
	pr, pw := io.Pipe()
	live := &pipeBackend{fakeBackend: &fakeBackend{}, r: pr}
	st := store.New()
	resolver := NewResolver(st, session.NewManager(t.TempDir()), live)
	o := NewOrchestrator(st, live, resolver, nil, "gpt-4", time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := o.Send(context.Background(), "hi", SendOptions{})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	o.Cancel()
	pw.CloseWithError(context.Canceled)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not unblock the turn")
	}

	s := st.Snapshot()
	if _, ok := s.StreamingMessage(); ok {
		t.Error("placeholder still streaming after cancel")
	}
	if s.Busy {
		t.Error("busy flag still set after cancel")
	}
	if s.StreamErr != "" || s.SendErr != "" || s.RegenErr != "" {
		t.Errorf("cancel filled an error slot: stream=%q send=%q regen=%q",
			s.StreamErr, s.SendErr, s.RegenErr)
	}
}

type pipeBackend struct {
	*fakeBackend
	r io.ReadCloser
}

func (p *pipeBackend) StreamGuestMessage(_ context.Context, msg, model, sessionID string) (io.ReadCloser, error) {
	return p.r, nil
}
