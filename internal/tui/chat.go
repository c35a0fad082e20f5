// Package tui implements the interactive chat screen used by `lawbot chat`.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/54b3r/lawbot-go/internal/orchestrator"
)

// QuitWord ends the session when typed on its own, in any case.
const QuitWord = "end"

// Answerer is the TUI-facing subset of the orchestrator.
type Answerer interface {
	Answer(ctx context.Context, sessionID, query string) (orchestrator.Reply, error)
}

// answerMsg carries the result of one background Answer call.
type answerMsg struct {
	reply orchestrator.Reply
	err   error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx       context.Context
	answerer  Answerer
	sessionID string

	input    textinput.Model
	viewport viewport.Model
	lines    []string
	status   string
	busy     bool
	ready    bool
}

// New creates a chat model that answers through a within sessionID.
// ctx bounds every Answer call.
func New(ctx context.Context, a Answerer, sessionID string) Model {
	ti := textinput.New()
	ti.Prompt = "Người dùng: "
	ti.Placeholder = `Đặt câu hỏi, gõ "end" để thoát`
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		ctx:       ctx,
		answerer:  a,
		sessionID: sessionID,
		input:     ti,
		viewport:  viewport.New(0, 0),
		status:    "Ready.",
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, resize and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		// header and status take one line each
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-2-ih-1-fh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.lines = append(m.lines, errorStyle.Render("Lỗi: "+msg.err.Error()))
			m.status = "Error."
		} else {
			tag := sourceStyle.Render("[" + string(msg.reply.Source) + "]")
			m.lines = append(m.lines, botStyle.Render("CHATBOT:")+" "+tag+" "+msg.reply.Text)
			m.status = "Ready."
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			q := strings.TrimSpace(m.input.Value())
			if strings.EqualFold(q, QuitWord) {
				return m, tea.Quit
			}
			if q == "" || m.busy {
				return m, nil
			}
			m.input.Reset()
			m.lines = append(m.lines, userStyle.Render("Người dùng:")+" "+q)
			m.busy = true
			m.status = "Thinking..."
			m.refresh()
			return m, m.ask(q)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs Answer off the UI goroutine.
func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.answerer.Answer(m.ctx, m.sessionID, q)
		return answerMsg{reply: reply, err: err}
	}
}

// refresh re-renders the transcript and keeps the newest line in view.
func (m *Model) refresh() {
	if len(m.lines) == 0 {
		m.viewport.SetContent(hintStyle.Render("Hỏi về Luật Bảo hiểm y tế. Ví dụ: \"Điều 12\", \"k: bảo hiểm y tế\"."))
		return
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(m.lines, "\n\n")))
	m.viewport.GotoBottom()
}

// View renders the screen.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render(fmt.Sprintf("lawbot (session %s)", m.sessionLabel()))
	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(m.status)
}

// Transcript returns the rendered lines so far.
func (m Model) Transcript() []string {
	return append([]string(nil), m.lines...)
}

func (m Model) sessionLabel() string {
	if m.sessionID == "" {
		return "default"
	}
	return m.sessionID
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
