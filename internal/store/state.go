// Package store holds all conversation state in a single-writer, reducer-style
// container: every mutation is a typed Action applied by a pure transition
// function over the whole State value. Other packages read snapshots and
// dispatch actions; nothing mutates State in place from outside.
package store

import (
	"chatline/internal/types"
)

// State is the complete conversation state. It is treated as immutable per
// update: reduce returns a new State, sharing unmodified collections with the
// previous one.
type State struct {
	// Active context. At most one of these is non-nil (mutually exclusive).
	CurrentThread  *types.Thread
	CurrentProject *types.Project

	Threads  []types.Thread
	Projects []types.Project
	Messages []types.Message

	// ProjectThreads caches each project's thread index, populated lazily on
	// first expansion. Missing key = never fetched.
	ProjectThreads map[string][]types.Thread

	// ExpandedProjects tracks which projects are expanded in the sidebar.
	ExpandedProjects map[string]bool

	AvailableModels []types.ModelInfo
	SelectedModel   string

	// SessionID mirrors the guest continuation id for display/routing.
	SessionID string

	// Busy is the single-turn-in-flight guard: true while a turn streams.
	Busy bool

	// Separate error slots: a regeneration failure never clobbers a send
	// failure and vice versa.
	SendErr   string
	StreamErr string
	RegenErr  string
}

// ProjectThreadsFetched reports whether a project's thread index has been
// populated (distinguishing "never fetched" from "fetched, empty").
func (s State) ProjectThreadsFetched(projectID string) bool {
	_, ok := s.ProjectThreads[projectID]
	return ok
}

// StreamingMessage returns the message currently streaming, if any.
func (s State) StreamingMessage() (types.Message, bool) {
	for _, m := range s.Messages {
		if m.IsStreaming {
			return m, true
		}
	}
	return types.Message{}, false
}

// FindMessage returns the message with the given id.
func (s State) FindMessage(id types.MessageID) (types.Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return types.Message{}, false
}

func cloneThreads(in []types.Thread) []types.Thread {
	out := make([]types.Thread, len(in))
	copy(out, in)
	return out
}

func cloneMessages(in []types.Message) []types.Message {
	out := make([]types.Message, len(in))
	copy(out, in)
	return out
}

func cloneProjectThreads(in map[string][]types.Thread) map[string][]types.Thread {
	out := make(map[string][]types.Thread, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneExpanded(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
