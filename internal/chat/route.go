// Package chat drives a conversation turn end to end: route resolution,
// optimistic store inserts, stream decoding, identity reconciliation, and
// post-turn continuation folding.
package chat

import (
	"context"

	"chatline/internal/logging"
	"chatline/internal/session"
	"chatline/internal/store"
	"chatline/internal/stream"
	"chatline/internal/types"
)

// Route is the resolved lane for one outgoing turn. The union is closed and
// each variant carries only the identifier its lane sends, so a request with
// both a session id and a thread id cannot be constructed.
type Route interface {
	isRoute()
}

// GuestRoute continues an anonymous conversation by session id.
type GuestRoute struct{ SessionID string }

// ThreadRoute continues a durable thread.
type ThreadRoute struct{ ThreadID string }

// ProjectRoute sends within a project. ThreadID is empty on the first turn
// of a fresh project conversation.
type ProjectRoute struct {
	ProjectID string
	ThreadID  string
}

func (GuestRoute) isRoute()   {}
func (ThreadRoute) isRoute()  {}
func (ProjectRoute) isRoute() {}

// Hints are the caller-supplied routing overrides. Empty fields fall back to
// the store's current context.
type Hints struct {
	ThreadID  string
	ProjectID string
}

// Resolver decides the lane for each turn and folds completion metadata back
// into the store afterwards.
type Resolver struct {
	store   *store.Store
	session *session.Manager
	backend Backend
}

func NewResolver(st *store.Store, sess *session.Manager, backend Backend) *Resolver {
	return &Resolver{store: st, session: sess, backend: backend}
}

// Resolve picks exactly one lane. Precedence: project, then thread, then
// guest. The guest lane mints a session id if none exists yet.
func (r *Resolver) Resolve(h Hints) (Route, error) {
	s := r.store.Snapshot()

	projectID := h.ProjectID
	if projectID == "" && s.CurrentProject != nil {
		projectID = s.CurrentProject.ID
	}
	if projectID != "" {
		threadID := h.ThreadID
		if threadID == "" && s.CurrentThread != nil && s.CurrentThread.ProjectID == projectID {
			threadID = s.CurrentThread.ID
		}
		return ProjectRoute{ProjectID: projectID, ThreadID: threadID}, nil
	}

	threadID := h.ThreadID
	if threadID == "" && s.CurrentThread != nil {
		threadID = s.CurrentThread.ID
	}
	if threadID != "" {
		return ThreadRoute{ThreadID: threadID}, nil
	}

	sessionID, err := r.session.GetOrCreate()
	if err != nil {
		return nil, err
	}
	r.store.Dispatch(store.SetSessionID{ID: sessionID})
	return GuestRoute{SessionID: sessionID}, nil
}

// ApplyStart folds routing metadata from a start event into local state, so
// a server-issued session id survives even when the stream later dies before
// its complete event.
func (r *Resolver) ApplyStart(route Route, md stream.Metadata) {
	rt, ok := route.(GuestRoute)
	if !ok {
		return
	}
	if md.SessionID == "" || md.SessionID == rt.SessionID {
		return
	}
	if err := r.session.Set(md.SessionID); err != nil {
		logging.Session("failed to persist session id: %v", err)
	}
	r.store.Dispatch(store.SetSessionID{ID: md.SessionID})
}

// ApplyCompletion folds the server's completion metadata into local state.
// Guest turns may come back promoted to a durable thread (chatId); any lane
// may report a new or renamed thread; a bare session id is adopted as the
// guest continuation identifier.
func (r *Resolver) ApplyCompletion(ctx context.Context, route Route, md stream.Metadata) {
	switch rt := route.(type) {
	case ProjectRoute:
		if md.ThreadID != "" && md.ThreadID != rt.ThreadID {
			t := r.fetchThread(ctx, md.ThreadID)
			t.ProjectID = rt.ProjectID
			r.store.Dispatch(store.AddProjectThread{ProjectID: rt.ProjectID, Thread: t})
			r.store.Dispatch(store.SetCurrentThread{Thread: &t})
		}

	case ThreadRoute:
		if md.ThreadID != "" && md.ThreadID != rt.ThreadID {
			t := r.fetchThread(ctx, md.ThreadID)
			r.store.Dispatch(store.UpsertThread{Thread: t})
			r.store.Dispatch(store.SetCurrentThread{Thread: &t})
		}

	case GuestRoute:
		switch {
		case md.ThreadID != "":
			t := r.fetchThread(ctx, md.ThreadID)
			r.store.Dispatch(store.UpsertThread{Thread: t})
			r.store.Dispatch(store.SetCurrentThread{Thread: &t})

		case md.ChatID != "":
			// Promotion check. Failure means the server kept this a guest
			// chat, which is not an error.
			t, err := r.backend.GetThreadDetails(ctx, md.ChatID)
			if err != nil {
				logging.Session("promotion lookup for chat %s failed: %v", md.ChatID, err)
				return
			}
			r.store.Dispatch(store.UpsertThread{Thread: t})
			r.store.Dispatch(store.SetCurrentThread{Thread: &t})

		case md.SessionID != "" && md.SessionID != rt.SessionID:
			if err := r.session.Set(md.SessionID); err != nil {
				logging.Session("failed to persist session id: %v", err)
			}
			r.store.Dispatch(store.SetSessionID{ID: md.SessionID})
		}
	}
}

// fetchThread looks a thread up for display. A failed lookup degrades to a
// name-less entry rather than dropping the thread from local state.
func (r *Resolver) fetchThread(ctx context.Context, threadID string) types.Thread {
	t, err := r.backend.GetThreadDetails(ctx, threadID)
	if err != nil {
		logging.Session("thread lookup %s failed: %v", threadID, err)
		return types.Thread{ID: threadID}
	}
	return t
}
