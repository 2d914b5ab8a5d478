// Package session manages the guest continuation identifier: the client-side
// session id used to request conversation continuity before a durable thread
// exists. The id is persisted under .chatline/session.json and replaced
// whenever the user explicitly starts a new conversation.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"chatline/internal/logging"

	"github.com/google/uuid"
)

type state struct {
	SessionID string `json:"session_id"`
}

// Manager persists the current guest session id.
type Manager struct {
	mu   sync.Mutex
	path string
	cur  string
}

// NewManager loads any persisted session id from workspace/.chatline/session.json.
func NewManager(workspace string) *Manager {
	m := &Manager{path: filepath.Join(workspace, ".chatline", "session.json")}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return m
	}
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		logging.Session("ignoring unreadable session file: %v", err)
		return m
	}
	m.cur = s.SessionID
	return m
}

// Current returns the session id without creating one. Empty if none exists.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// GetOrCreate returns the session id, generating and persisting a fresh one
// if none exists.
func (m *Manager) GetOrCreate() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != "" {
		return m.cur, nil
	}
	id := uuid.NewString()
	if err := m.persist(id); err != nil {
		return "", err
	}
	m.cur = id
	logging.Session("generated session id %s", id)
	return id, nil
}

// Set adopts a server-provided session id.
func (m *Manager) Set(id string) error {
	if id == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.persist(id); err != nil {
		return err
	}
	m.cur = id
	logging.Session("adopted session id %s", id)
	return nil
}

// Clear discards the current session id.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cur = ""
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	logging.Session("cleared session id")
	return nil
}

// Reset discards the current id and returns a fresh one (new conversation).
func (m *Manager) Reset() (string, error) {
	if err := m.Clear(); err != nil {
		return "", err
	}
	return m.GetOrCreate()
}

func (m *Manager) persist(id string) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.Marshal(state{SessionID: id})
	if err != nil {
		return err
	}
	// Write-then-rename so a crash never leaves a torn file.
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
