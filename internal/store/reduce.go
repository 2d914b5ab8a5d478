package store

import (
	"chatline/internal/types"
)

// reduce applies one action to the state and returns the next state. It is a
// pure function: no I/O, no shared mutation.
func reduce(s State, a Action) State {
	switch act := a.(type) {

	case SetThreads:
		s.Threads = act.Threads

	case UpsertThread:
		out := make([]types.Thread, 0, len(s.Threads)+1)
		out = append(out, act.Thread)
		for _, t := range s.Threads {
			if t.ID != act.Thread.ID {
				out = append(out, t)
			}
		}
		s.Threads = out

	case UpdateThread:
		s.Threads = mergeThread(cloneThreads(s.Threads), act.Thread)
		pt := cloneProjectThreads(s.ProjectThreads)
		for pid, list := range pt {
			pt[pid] = mergeThread(cloneThreads(list), act.Thread)
		}
		s.ProjectThreads = pt
		if s.CurrentThread != nil && s.CurrentThread.ID == act.Thread.ID {
			merged := merge(*s.CurrentThread, act.Thread)
			s.CurrentThread = &merged
		}

	case DeleteThread:
		out := make([]types.Thread, 0, len(s.Threads))
		for _, t := range s.Threads {
			if t.ID != act.ID {
				out = append(out, t)
			}
		}
		s.Threads = out

		pt := cloneProjectThreads(s.ProjectThreads)
		for pid, list := range pt {
			kept := make([]types.Thread, 0, len(list))
			for _, t := range list {
				if t.ID != act.ID {
					kept = append(kept, t)
				}
			}
			pt[pid] = kept
		}
		s.ProjectThreads = pt

		if s.CurrentThread != nil && s.CurrentThread.ID == act.ID {
			s.CurrentThread = nil
		}

	case SetCurrentThread:
		s.CurrentThread = act.Thread
		s.CurrentProject = nil

	case SetProjects:
		s.Projects = act.Projects

	case AddProject:
		s.Projects = append(cloneProjects(s.Projects), act.Project)

	case DeleteProject:
		out := make([]types.Project, 0, len(s.Projects))
		for _, p := range s.Projects {
			if p.ID != act.ID {
				out = append(out, p)
			}
		}
		s.Projects = out

		pt := cloneProjectThreads(s.ProjectThreads)
		delete(pt, act.ID)
		s.ProjectThreads = pt

		exp := cloneExpanded(s.ExpandedProjects)
		delete(exp, act.ID)
		s.ExpandedProjects = exp

		if s.CurrentProject != nil && s.CurrentProject.ID == act.ID {
			s.CurrentProject = nil
		}

	case SetCurrentProject:
		s.CurrentProject = act.Project
		s.CurrentThread = nil

	case SetProjectThreads:
		pt := cloneProjectThreads(s.ProjectThreads)
		pt[act.ProjectID] = act.Threads
		s.ProjectThreads = pt

	case AddProjectThread:
		pt := cloneProjectThreads(s.ProjectThreads)
		existing := pt[act.ProjectID]
		out := make([]types.Thread, 0, len(existing)+1)
		out = append(out, act.Thread)
		for _, t := range existing {
			if t.ID != act.Thread.ID {
				out = append(out, t)
			}
		}
		pt[act.ProjectID] = out
		s.ProjectThreads = pt

	case InvalidateProjectThreads:
		pt := cloneProjectThreads(s.ProjectThreads)
		delete(pt, act.ProjectID)
		s.ProjectThreads = pt

	case ToggleProjectExpansion:
		exp := cloneExpanded(s.ExpandedProjects)
		if exp[act.ProjectID] {
			delete(exp, act.ProjectID)
		} else {
			exp[act.ProjectID] = true
		}
		s.ExpandedProjects = exp

	case SetMessages:
		s.Messages = act.Messages

	case AddMessage:
		s.Messages = append(cloneMessages(s.Messages), act.Message)

	case UpdateMessageText:
		out := cloneMessages(s.Messages)
		for i := range out {
			if out[i].ID == act.ID {
				out[i].Text = act.Text
				out[i].IsStreaming = act.Streaming
			}
		}
		s.Messages = out

	case FinalizeTurn:
		out := cloneMessages(s.Messages)
		for i := range out {
			if out[i].ID.Turn != act.TempTurn {
				continue
			}
			out[i].ID.Turn = act.DurableTurn
			if out[i].ID.Role == types.RoleAssistant {
				out[i].Text = act.Text
				out[i].IsStreaming = false
			}
		}
		s.Messages = out

	case FreezeMessage:
		out := cloneMessages(s.Messages)
		for i := range out {
			if out[i].ID == act.ID {
				if act.Text != "" {
					out[i].Text = act.Text
				}
				out[i].IsStreaming = false
			}
		}
		s.Messages = out

	case RemoveMessage:
		out := make([]types.Message, 0, len(s.Messages))
		for _, m := range s.Messages {
			if m.ID != act.ID {
				out = append(out, m)
			}
		}
		s.Messages = out

	case SetAvailableModels:
		s.AvailableModels = act.Models

	case SetSelectedModel:
		s.SelectedModel = act.Model

	case SetSessionID:
		s.SessionID = act.ID

	case SetBusy:
		s.Busy = act.Busy

	case SetSendError:
		s.SendErr = act.Message
		s.Busy = false

	case SetStreamError:
		s.StreamErr = act.Message
		s.Busy = false

	case SetRegenError:
		s.RegenErr = act.Message

	case ClearErrors:
		s.SendErr = ""
		s.StreamErr = ""
		s.RegenErr = ""

	case ClearRegenError:
		s.RegenErr = ""

	case NewConversation:
		s.CurrentThread = nil
		s.CurrentProject = act.Project
		s.Messages = nil
		s.StreamErr = ""
		s.SendErr = ""
	}

	return s
}

func cloneProjects(in []types.Project) []types.Project {
	out := make([]types.Project, len(in))
	copy(out, in)
	return out
}

func mergeThread(list []types.Thread, upd types.Thread) []types.Thread {
	for i := range list {
		if list[i].ID == upd.ID {
			list[i] = merge(list[i], upd)
		}
	}
	return list
}

// merge overlays non-empty fields of upd onto t.
func merge(t, upd types.Thread) types.Thread {
	if upd.Name != "" {
		t.Name = upd.Name
	}
	if upd.ProjectID != "" {
		t.ProjectID = upd.ProjectID
	}
	return t
}
