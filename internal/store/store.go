package store

import (
	"sync"

	"chatline/internal/logging"
	"chatline/internal/types"
)

// Store serializes state transitions. Dispatch applies the reducer under the
// write lock; Snapshot returns a copy whose collections are detached from the
// live state.
type Store struct {
	mu    sync.RWMutex
	state State
}

func New() *Store {
	return &Store{
		state: State{
			ProjectThreads:   map[string][]types.Thread{},
			ExpandedProjects: map[string]bool{},
		},
	}
}

// Dispatch applies a single action atomically.
func (st *Store) Dispatch(a Action) {
	st.mu.Lock()
	st.state = reduce(st.state, a)
	st.mu.Unlock()
	logging.StoreDebug("dispatch %T", a)
}

// Snapshot returns a copy of the current state. Slices and maps are cloned so
// callers can hold the snapshot across later dispatches.
func (st *Store) Snapshot() State {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s := st.state
	s.Threads = cloneThreads(s.Threads)
	s.Projects = cloneProjects(s.Projects)
	s.Messages = cloneMessages(s.Messages)
	s.ProjectThreads = cloneProjectThreads(s.ProjectThreads)
	s.ExpandedProjects = cloneExpanded(s.ExpandedProjects)
	if s.CurrentThread != nil {
		t := *s.CurrentThread
		s.CurrentThread = &t
	}
	if s.CurrentProject != nil {
		p := *s.CurrentProject
		s.CurrentProject = &p
	}
	return s
}
