package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-dialog/core"
	"github.com/koscakluka/ema-dialog/core/llms"
	"github.com/koscakluka/ema-dialog/core/transcript"
	"github.com/muesli/reflow/wordwrap"
)

// tickInterval is one frame; every tick drains the dispatch queue.
const tickInterval = 16 * time.Millisecond

type tickMsg time.Time

type speechProbedMsg struct{ err error }

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func probeSpeech(ctx context.Context, s *session) tea.Cmd {
	return func() tea.Msg {
		return speechProbedMsg{err: s.probeSpeech(ctx)}
	}
}

var (
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

// model is the terminal host. Its Update loop is the controlling goroutine.
type model struct {
	ctx     context.Context
	session *session

	input    textinput.Model
	viewport viewport.Model
	width    int
	rendered int
	notice   string
}

func newModel(ctx context.Context, s *session) model {
	input := textinput.New()
	input.Placeholder = "Say something to the NPC..."
	input.CharLimit = 500
	input.Prompt = "> "

	return model{
		ctx:      ctx,
		session:  s,
		input:    input,
		viewport: viewport.New(80, 20),
		width:    80,
		rendered: -1,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick(), probeSpeech(m.ctx, m.session))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.rendered = -1
		m.refreshTranscript()
		return m, nil

	case tickMsg:
		m.session.queue.Drain()
		m.syncInput()
		m.refreshTranscript()
		return m, tick()

	case speechProbedMsg:
		if msg.err != nil {
			m.notice = "speech disabled: " + msg.err.Error()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "ctrl+t":
			if !m.session.enter() {
				m.notice = "already talking"
			}
			return m, nil
		case "esc":
			m.session.leave()
			return m, nil
		case "enter":
			if m.session.submit(m.ctx, m.input.Value()) {
				m.input.Reset()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.input.Focused() {
		m.input, cmd = m.input.Update(msg)
	}
	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(cmd, vpCmd)
}

// syncInput mirrors the dialog view onto the input: it only takes text while
// the dialog is shown and no reply is pending.
func (m *model) syncInput() {
	usable := m.session.dialogView.active && !m.session.busy
	switch {
	case usable && !m.input.Focused():
		m.input.Focus()
	case !usable && m.input.Focused():
		m.input.Blur()
	}
}

func (m *model) refreshTranscript() {
	count := m.session.recorder.Len()
	if count == m.rendered {
		return
	}
	m.rendered = count
	m.viewport.SetContent(renderTranscript(m.session.recorder.Entries(), m.width))
	m.viewport.GotoBottom()
}

func renderTranscript(entries []transcript.Entry, width int) string {
	wrapAt := max(width-2, 20)

	var b strings.Builder
	for _, entry := range entries {
		var line string
		switch {
		case entry.Kind == transcript.KindError:
			line = errorStyle.Render("! " + entry.Content)
		case entry.Role == llms.RoleUser:
			line = userStyle.Render("You: ") + entry.Content
		case entry.Role == llms.RoleAssistant:
			line = assistantStyle.Render("NPC: ") + entry.Content
		default:
			line = entry.Content
		}
		b.WriteString(wordwrap.String(line, wrapAt))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) statusLine() string {
	s := m.session
	state := s.dialog.State().String()
	if s.dialog.State() == orchestration.DialogActive {
		state = activeStyle.Render(state)
	}

	parts := []string{
		"dialog " + state,
		"input " + onOff(s.actor.enabled),
		s.mainView.String(),
		s.dialogView.String(),
		s.pointer.String(),
		"speech " + onOff(s.conversation.SpeechEnabled()),
	}
	if s.busy {
		parts = append(parts, "waiting for reply")
	}
	return statusStyle.Render(strings.Join(parts, " | "))
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.session.dialogView.active {
		b.WriteString(m.input.View())
	} else {
		b.WriteString(helpStyle.Render("walk up to the NPC with ctrl+t"))
	}
	b.WriteString("\n")

	help := "ctrl+t talk | enter send | esc leave | ctrl+c quit"
	if m.notice != "" {
		help = fmt.Sprintf("%s | %s", m.notice, help)
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}
