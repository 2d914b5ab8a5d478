package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"chatline/internal/types"
)

func thread(id, name, project string) types.Thread {
	return types.Thread{ID: id, Name: name, ProjectID: project}
}

func TestUpsertThreadMovesToFront(t *testing.T) {
	st := New()
	st.Dispatch(SetThreads{Threads: []types.Thread{
		thread("t1", "first", ""),
		thread("t2", "second", ""),
	}})
	st.Dispatch(UpsertThread{Thread: thread("t2", "second renamed", "")})

	got := st.Snapshot().Threads
	want := []types.Thread{
		thread("t2", "second renamed", ""),
		thread("t1", "first", ""),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("threads mismatch (-want +got):\n%s", diff)
	}

	// Upserting again with identical content is a no-op shape-wise.
	st.Dispatch(UpsertThread{Thread: thread("t2", "second renamed", "")})
	if diff := cmp.Diff(want, st.Snapshot().Threads); diff != "" {
		t.Errorf("idempotent upsert mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateThreadMergesEverywhere(t *testing.T) {
	st := New()
	st.Dispatch(SetThreads{Threads: []types.Thread{thread("t1", "old", "p1")}})
	st.Dispatch(SetProjectThreads{ProjectID: "p1", Threads: []types.Thread{thread("t1", "old", "p1")}})
	cur := thread("t1", "old", "p1")
	st.Dispatch(SetCurrentThread{Thread: &cur})

	st.Dispatch(UpdateThread{Thread: types.Thread{ID: "t1", Name: "new"}})

	s := st.Snapshot()
	if s.Threads[0].Name != "new" {
		t.Errorf("flat list name = %q, want new", s.Threads[0].Name)
	}
	if s.ProjectThreads["p1"][0].Name != "new" {
		t.Errorf("project index name = %q, want new", s.ProjectThreads["p1"][0].Name)
	}
	if s.CurrentThread == nil || s.CurrentThread.Name != "new" {
		t.Errorf("current thread not updated: %+v", s.CurrentThread)
	}
	// Merge keeps fields the update left empty.
	if s.Threads[0].ProjectID != "p1" {
		t.Errorf("merge dropped project id: %+v", s.Threads[0])
	}
}

func TestDeleteActiveThreadCascades(t *testing.T) {
	st := New()
	st.Dispatch(SetThreads{Threads: []types.Thread{
		thread("t1", "keep", ""),
		thread("t2", "doomed", "p1"),
	}})
	st.Dispatch(SetProjectThreads{ProjectID: "p1", Threads: []types.Thread{thread("t2", "doomed", "p1")}})
	cur := thread("t2", "doomed", "p1")
	st.Dispatch(SetCurrentThread{Thread: &cur})

	st.Dispatch(DeleteThread{ID: "t2"})

	s := st.Snapshot()
	if s.CurrentThread != nil {
		t.Errorf("current thread not cleared: %+v", s.CurrentThread)
	}
	if len(s.ProjectThreads["p1"]) != 0 {
		t.Errorf("project index still holds deleted thread: %+v", s.ProjectThreads["p1"])
	}
	want := []types.Thread{thread("t1", "keep", "")}
	if diff := cmp.Diff(want, s.Threads); diff != "" {
		t.Errorf("threads mismatch (-want +got):\n%s", diff)
	}
}

func TestThreadAndProjectSelectionMutuallyExclusive(t *testing.T) {
	st := New()
	p := types.Project{ID: "p1", Name: "proj"}
	st.Dispatch(SetCurrentProject{Project: &p})

	cur := thread("t1", "talk", "")
	st.Dispatch(SetCurrentThread{Thread: &cur})
	s := st.Snapshot()
	if s.CurrentProject != nil {
		t.Errorf("selecting thread kept project: %+v", s.CurrentProject)
	}

	st.Dispatch(SetCurrentProject{Project: &p})
	s = st.Snapshot()
	if s.CurrentThread != nil {
		t.Errorf("selecting project kept thread: %+v", s.CurrentThread)
	}
}

func TestFinalizeTurnRenamesBothHalvesAtomically(t *testing.T) {
	st := New()
	user := types.NewUserMessage("temp-x", "hello", "gpt-4")
	ai := types.NewStreamingPlaceholder("temp-x", "gpt-4")
	st.Dispatch(AddMessage{Message: user})
	st.Dispatch(AddMessage{Message: ai})

	st.Dispatch(FinalizeTurn{TempTurn: "temp-x", DurableTurn: "srv-1", Text: "hi there"})

	s := st.Snapshot()
	if len(s.Messages) != 2 {
		t.Fatalf("message count = %d, want 2", len(s.Messages))
	}
	var turns []string
	for _, m := range s.Messages {
		turns = append(turns, m.ID.Turn)
	}
	// A snapshot taken after the dispatch never mixes old and new turn ids.
	want := []string{"srv-1", "srv-1"}
	if diff := cmp.Diff(want, turns); diff != "" {
		t.Errorf("turn ids (-want +got):\n%s", diff)
	}
	aiMsg, ok := s.FindMessage(types.MessageID{Turn: "srv-1", Role: types.RoleAssistant})
	if !ok {
		t.Fatal("assistant half missing after finalize")
	}
	if aiMsg.Text != "hi there" || aiMsg.IsStreaming {
		t.Errorf("assistant half = %+v, want final text and streaming off", aiMsg)
	}
	userMsg, ok := s.FindMessage(types.MessageID{Turn: "srv-1", Role: types.RoleUser})
	if !ok {
		t.Fatal("user half missing after finalize")
	}
	if userMsg.Text != "hello" {
		t.Errorf("user text changed during finalize: %q", userMsg.Text)
	}
}

func TestFreezeMessageKeepsPartialText(t *testing.T) {
	st := New()
	ai := types.NewStreamingPlaceholder("temp-x", "gpt-4")
	st.Dispatch(AddMessage{Message: ai})
	st.Dispatch(UpdateMessageText{ID: ai.ID, Text: "partial answ", Streaming: true})

	st.Dispatch(FreezeMessage{ID: ai.ID})

	m, ok := st.Snapshot().FindMessage(ai.ID)
	if !ok {
		t.Fatal("message gone after freeze")
	}
	if m.IsStreaming {
		t.Error("freeze left streaming flag set")
	}
	if m.Text != "partial answ" {
		t.Errorf("freeze lost partial text: %q", m.Text)
	}
}

func TestRemoveMessage(t *testing.T) {
	st := New()
	ai := types.NewStreamingPlaceholder("regen-1", "gpt-4")
	st.Dispatch(AddMessage{Message: ai})
	st.Dispatch(RemoveMessage{ID: ai.ID})
	if n := len(st.Snapshot().Messages); n != 0 {
		t.Errorf("message count = %d after remove, want 0", n)
	}
}

func TestDeleteProjectDropsIndexes(t *testing.T) {
	st := New()
	p := types.Project{ID: "p1", Name: "proj"}
	st.Dispatch(SetProjects{Projects: []types.Project{p}})
	st.Dispatch(SetProjectThreads{ProjectID: "p1", Threads: []types.Thread{thread("t1", "a", "p1")}})
	st.Dispatch(ToggleProjectExpansion{ProjectID: "p1"})
	st.Dispatch(SetCurrentProject{Project: &p})

	st.Dispatch(DeleteProject{ID: "p1"})

	s := st.Snapshot()
	if len(s.Projects) != 0 {
		t.Errorf("projects not empty: %+v", s.Projects)
	}
	if s.ProjectThreadsFetched("p1") {
		t.Error("project thread index survived delete")
	}
	if s.ExpandedProjects["p1"] {
		t.Error("expansion flag survived delete")
	}
	if s.CurrentProject != nil {
		t.Errorf("current project survived delete: %+v", s.CurrentProject)
	}
}

func TestNewConversationResets(t *testing.T) {
	st := New()
	cur := thread("t1", "talk", "")
	st.Dispatch(SetCurrentThread{Thread: &cur})
	st.Dispatch(AddMessage{Message: types.NewUserMessage("temp-1", "hi", "gpt-4")})
	st.Dispatch(SetStreamError{Message: "boom"})

	p := types.Project{ID: "p1", Name: "proj"}
	st.Dispatch(NewConversation{Project: &p})

	s := st.Snapshot()
	if s.CurrentThread != nil || len(s.Messages) != 0 || s.StreamErr != "" {
		t.Errorf("conversation not reset: %+v", s)
	}
	if s.CurrentProject == nil || s.CurrentProject.ID != "p1" {
		t.Errorf("project scope not carried: %+v", s.CurrentProject)
	}
}

func TestErrorSlotsClearBusy(t *testing.T) {
	st := New()
	st.Dispatch(SetBusy{Busy: true})
	st.Dispatch(SetSendError{Message: "rejected"})
	s := st.Snapshot()
	if s.Busy {
		t.Error("send error left busy set")
	}
	if s.SendErr != "rejected" {
		t.Errorf("send error = %q", s.SendErr)
	}

	st.Dispatch(ClearErrors{})
	s = st.Snapshot()
	if s.SendErr != "" || s.StreamErr != "" || s.RegenErr != "" {
		t.Errorf("errors not cleared: %+v", s)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	st := New()
	st.Dispatch(SetThreads{Threads: []types.Thread{thread("t1", "a", "")}})
	snap := st.Snapshot()

	st.Dispatch(UpdateThread{Thread: types.Thread{ID: "t1", Name: "b"}})

	if snap.Threads[0].Name != "a" {
		t.Errorf("snapshot mutated by later dispatch: %+v", snap.Threads[0])
	}
}
