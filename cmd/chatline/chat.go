package main

// Interactive chat interface built on bubbletea.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"chatline/internal/chat"
	"chatline/internal/config"
	"chatline/internal/logging"
	"chatline/internal/store"
	"chatline/internal/types"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	aiStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle = lipgloss.NewStyle().Faint(true).Italic(true)
)

type chatModel struct {
	app       *app
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer

	ready     bool
	streaming bool
	width     int
	height    int
	err       error
	status    string
}

// Messages for tea updates
type (
	bootstrapMsg    struct{ err error }
	streamUpdateMsg struct{}
	turnDoneMsg     struct {
		err       error
		cancelled bool
	}
)

func newChatModel(a *app) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask me anything... (Enter to send, Esc to cancel, Ctrl+C to exit)"
	ti.Focus()
	ti.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	vp := viewport.New(80, 20)

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return chatModel{
		app:       a,
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		renderer:  renderer,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.bootstrap(),
	)
}

// bootstrap loads threads, projects, and models concurrently before the
// first prompt.
func (m chatModel) bootstrap() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			threads, err := m.app.client.ListThreads(ctx, 50, 0)
			if err != nil {
				return err
			}
			m.app.store.Dispatch(store.SetThreads{Threads: threads})
			return nil
		})
		g.Go(func() error {
			projects, err := m.app.client.ListProjects(ctx, 50, 0)
			if err != nil {
				return err
			}
			m.app.store.Dispatch(store.SetProjects{Projects: projects})
			return nil
		})
		g.Go(func() error {
			models, err := m.app.client.ListModels(ctx)
			if err != nil {
				return err
			}
			m.app.store.Dispatch(store.SetAvailableModels{Models: models})
			return nil
		})
		if threadID != "" {
			g.Go(func() error {
				thread, err := m.app.client.GetThreadDetails(ctx, threadID)
				if err != nil {
					return err
				}
				messages, err := m.app.client.ListMessages(ctx, threadID, 100, 0)
				if err != nil {
					return err
				}
				m.app.store.Dispatch(store.SetCurrentThread{Thread: &thread})
				m.app.store.Dispatch(store.SetMessages{Messages: messages})
				return nil
			})
		}
		return bootstrapMsg{err: g.Wait()}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.app.orchestrator.Cancel()
			logging.CloseAll()
			return m, tea.Quit

		case tea.KeyEsc:
			if m.streaming {
				m.app.orchestrator.Cancel()
				m.status = "cancelling..."
				return m, nil
			}
			logging.CloseAll()
			return m, tea.Quit

		case tea.KeyEnter:
			if !m.streaming {
				return m.handleSubmit()
			}
		}

		if !m.streaming {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 2
		inputHeight := 3

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 4

		if m.renderer != nil {
			m.renderer, _ = glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(msg.Width-8),
			)
		}
		m.viewport.SetContent(m.renderTranscript())

	case spinner.TickMsg:
		m.spinner, spCmd = m.spinner.Update(msg)
		return m, spCmd

	case streamUpdateMsg:
		// A chunk landed in the store; repaint the transcript.
		if m.streaming {
			m.viewport.SetContent(m.renderTranscript())
			m.viewport.GotoBottom()
		}
		return m, nil

	case bootstrapMsg:
		if msg.err != nil {
			m.status = "offline: " + msg.err.Error()
		} else {
			s := m.app.store.Snapshot()
			m.status = fmt.Sprintf("%d threads, %d projects", len(s.Threads), len(s.Projects))
		}
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()

	case turnDoneMsg:
		m.streaming = false
		m.err = msg.err
		m.status = ""
		if msg.cancelled {
			m.status = "cancelled"
		}
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	m.textinput.Reset()
	m.streaming = true
	m.err = nil
	m.status = "streaming"

	return m, tea.Batch(m.spinner.Tick, m.sendTurn(input))
}

func (m chatModel) sendTurn(text string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.app.orchestrator.Send(context.Background(), text, chat.SendOptions{
			Hints: chat.Hints{ThreadID: threadID, ProjectID: projectID},
		})
		if errors.Is(err, context.Canceled) {
			return turnDoneMsg{cancelled: true}
		}
		return turnDoneMsg{err: err}
	}
}

func (m chatModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	m.textinput.Reset()

	switch fields[0] {
	case "/quit", "/exit":
		logging.CloseAll()
		return m, tea.Quit

	case "/new":
		m.app.store.Dispatch(store.NewConversation{})
		threadID = ""
		m.viewport.SetContent(m.renderTranscript())
		m.status = "new conversation"
		return m, nil

	case "/model":
		if len(fields) < 2 {
			s := m.app.store.Snapshot()
			var names []string
			for _, mi := range s.AvailableModels {
				names = append(names, mi.ID)
			}
			m.status = "models: " + strings.Join(names, ", ")
			return m, nil
		}
		m.app.store.Dispatch(store.SetSelectedModel{Model: fields[1]})
		m.status = "model set to " + fields[1]
		return m, nil

	case "/regen":
		return m.handleRegenerate()

	default:
		m.status = "unknown command " + fields[0]
		return m, nil
	}
}

func (m chatModel) handleRegenerate() (tea.Model, tea.Cmd) {
	s := m.app.store.Snapshot()
	var target *types.Message
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].ID.Role == types.RoleAssistant {
			target = &s.Messages[i]
			break
		}
	}
	if target == nil {
		m.status = "nothing to regenerate"
		return m, nil
	}

	id := target.ID
	m.streaming = true
	m.err = nil
	m.status = "regenerating"
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		_, err := m.app.orchestrator.Regenerate(context.Background(), id, "")
		if errors.Is(err, context.Canceled) {
			return turnDoneMsg{cancelled: true}
		}
		return turnDoneMsg{err: err}
	})
}

func (m chatModel) renderTranscript() string {
	s := m.app.store.Snapshot()
	if len(s.Messages) == 0 {
		return faintStyle.Render("No messages yet. Type below to start the conversation.")
	}

	var sb strings.Builder
	for _, msg := range s.Messages {
		switch msg.ID.Role {
		case types.RoleUser:
			sb.WriteString(userStyle.Render("You"))
			if msg.HasAttachment {
				sb.WriteString(faintStyle.Render(fmt.Sprintf(" (+ %s)", msg.AttachmentName)))
			}
			sb.WriteString("\n")
			sb.WriteString(msg.Text)
			sb.WriteString("\n\n")

		case types.RoleAssistant:
			label := "AI"
			if msg.IsRegenerated {
				label = "AI (regenerated)"
			}
			sb.WriteString(aiStyle.Render(label))
			sb.WriteString("\n")
			text := msg.Text
			if msg.IsStreaming && text == "" {
				text = "..."
			}
			if !msg.IsStreaming && m.renderer != nil {
				if rendered, err := m.renderer.Render(text); err == nil {
					text = strings.TrimSpace(rendered)
				}
			}
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "initializing..."
	}

	header := titleStyle.Render("chatline")
	s := m.app.store.Snapshot()
	if s.CurrentThread != nil && s.CurrentThread.Name != "" {
		header += faintStyle.Render("  " + s.CurrentThread.Name)
	}

	var footer string
	switch {
	case m.streaming:
		footer = m.spinner.View() + statusStyle.Render(" "+m.status)
	case m.err != nil:
		footer = errorStyle.Render("error: " + m.err.Error())
	case s.SendErr != "":
		footer = errorStyle.Render("error: " + s.SendErr)
	case s.StreamErr != "":
		footer = errorStyle.Render("error: " + s.StreamErr)
	case s.RegenErr != "":
		footer = errorStyle.Render("error: " + s.RegenErr)
	case m.status != "":
		footer = statusStyle.Render(m.status)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s\n%s",
		header,
		m.viewport.View(),
		m.textinput.View(),
		footer,
	)
}

func runInteractiveChat() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() {
		if a.archive != nil {
			a.archive.Close()
		}
		logging.CloseAll()
	}()

	logging.Boot("starting interactive chat (api=%s)", a.cfg.API.BaseURL)

	// Pick up config edits mid-session. Only the cheap-to-swap settings are
	// applied live; URL or token changes need a restart.
	watcher, werr := config.NewWatcher(workspace, func(cfg *config.Config) {
		if cfg.Chat.DefaultModel != "" {
			a.store.Dispatch(store.SetSelectedModel{Model: cfg.Chat.DefaultModel})
		}
	})
	if werr == nil {
		if err := watcher.Start(context.Background()); err == nil {
			defer watcher.Stop()
		}
	}

	p := tea.NewProgram(newChatModel(a), tea.WithAltScreen())
	a.orchestrator.SetOnUpdate(func() {
		p.Send(streamUpdateMsg{})
	})
	_, err = p.Run()
	return err
}
