package store

import (
	"chatline/internal/types"
)

// Action is a named transition over the whole State. The set is closed: only
// types in this file implement it.
type Action interface {
	isAction()
}

// Thread actions.

// SetThreads replaces the flat thread list.
type SetThreads struct{ Threads []types.Thread }

// UpsertThread inserts a thread at the front of the flat list, merging by id
// if it is already present (idempotent).
type UpsertThread struct{ Thread types.Thread }

// UpdateThread merges fields into an existing thread everywhere it appears:
// the flat list, every project index, and the current thread.
type UpdateThread struct{ Thread types.Thread }

// DeleteThread removes a thread from the flat list and every project index,
// and clears CurrentThread if it was the active one.
type DeleteThread struct{ ID string }

// SetCurrentThread activates a thread. Always clears CurrentProject.
type SetCurrentThread struct{ Thread *types.Thread }

// Project actions.

// SetProjects replaces the project list.
type SetProjects struct{ Projects []types.Project }

// AddProject appends a newly created project.
type AddProject struct{ Project types.Project }

// DeleteProject removes a project, its thread index, and its expansion state.
type DeleteProject struct{ ID string }

// SetCurrentProject activates a project. Always clears CurrentThread.
type SetCurrentProject struct{ Project *types.Project }

// SetProjectThreads populates (or replaces) a project's lazy thread index.
type SetProjectThreads struct {
	ProjectID string
	Threads   []types.Thread
}

// AddProjectThread inserts a thread at the front of a project's index,
// deduplicating by id.
type AddProjectThread struct {
	ProjectID string
	Thread    types.Thread
}

// InvalidateProjectThreads drops a project's cached index so the next
// expansion refetches it.
type InvalidateProjectThreads struct{ ProjectID string }

// ToggleProjectExpansion flips a project's sidebar expansion state.
type ToggleProjectExpansion struct{ ProjectID string }

// Message actions.

// SetMessages replaces the transcript.
type SetMessages struct{ Messages []types.Message }

// AddMessage appends a message to the transcript.
type AddMessage struct{ Message types.Message }

// UpdateMessageText replaces a message's text in place by id (idempotent,
// used per streamed chunk).
type UpdateMessageText struct {
	ID        types.MessageID
	Text      string
	Streaming bool
}

// FinalizeTurn rewrites both halves of a turn to their durable ids and
// freezes the assistant half in a single transition.
type FinalizeTurn struct {
	TempTurn    string
	DurableTurn string
	Text        string
}

// FreezeMessage clears a message's streaming flag without renaming it (the
// fallback when no durable id was returned, and the end-without-complete
// path).
type FreezeMessage struct {
	ID   types.MessageID
	Text string
}

// RemoveMessage deletes a message from the transcript.
type RemoveMessage struct{ ID types.MessageID }

// Model actions.

// SetAvailableModels replaces the model list.
type SetAvailableModels struct{ Models []types.ModelInfo }

// SetSelectedModel changes the active model.
type SetSelectedModel struct{ Model string }

// Session and turn-state actions.

// SetSessionID mirrors the guest continuation id into state.
type SetSessionID struct{ ID string }

// SetBusy flips the single-turn-in-flight guard.
type SetBusy struct{ Busy bool }

// SetSendError records a turn-send failure.
type SetSendError struct{ Message string }

// SetStreamError records a mid-stream failure.
type SetStreamError struct{ Message string }

// SetRegenError records a regeneration failure in its own slot.
type SetRegenError struct{ Message string }

// ClearErrors clears all error slots.
type ClearErrors struct{}

// ClearRegenError clears only the regeneration slot.
type ClearRegenError struct{}

// NewConversation resets the active context and transcript for a fresh chat,
// optionally scoped to a project.
type NewConversation struct{ Project *types.Project }

func (SetThreads) isAction()               {}
func (UpsertThread) isAction()             {}
func (UpdateThread) isAction()             {}
func (DeleteThread) isAction()             {}
func (SetCurrentThread) isAction()         {}
func (SetProjects) isAction()              {}
func (AddProject) isAction()               {}
func (DeleteProject) isAction()            {}
func (SetCurrentProject) isAction()        {}
func (SetProjectThreads) isAction()        {}
func (AddProjectThread) isAction()         {}
func (InvalidateProjectThreads) isAction() {}
func (ToggleProjectExpansion) isAction()   {}
func (SetMessages) isAction()              {}
func (AddMessage) isAction()               {}
func (UpdateMessageText) isAction()        {}
func (FinalizeTurn) isAction()             {}
func (FreezeMessage) isAction()            {}
func (RemoveMessage) isAction()            {}
func (SetAvailableModels) isAction()       {}
func (SetSelectedModel) isAction()         {}
func (SetSessionID) isAction()             {}
func (SetBusy) isAction()                  {}
func (SetSendError) isAction()             {}
func (SetStreamError) isAction()           {}
func (SetRegenError) isAction()            {}
func (ClearErrors) isAction()              {}
func (ClearRegenError) isAction()          {}
func (NewConversation) isAction()          {}
