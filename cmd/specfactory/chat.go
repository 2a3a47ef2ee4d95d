package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rodcar/agentic-software-factory/internal/session"
)

var (
	// chat command flags
	chatSessionID string
)

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Resume an existing session")
}

// chatCmd starts the interactive chat TUI
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation with the specification factory",
	Long: `Start an interactive terminal conversation. Describe a project idea,
read the drafted specification, test plan and review, then steer with
free-text feedback until you approve.

Examples:
  # Start a fresh conversation
  specfactory chat

  # Resume an existing session
  specfactory chat --session 2f1c...`,
	RunE: runChat,
}

// runChat handles the chat command
func runChat(cmd *cobra.Command, args []string) error {
	model := newChatModel(newAPIClient(serverURL), chatSessionID)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat failed: %w", err)
	}
	return nil
}

var (
	chatHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	chatUserStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	chatAgentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("78"))
	chatSystemStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	chatErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	chatHintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// chatLine is one rendered entry in the transcript.
type chatLine struct {
	label string
	style lipgloss.Style
	text  string
}

// turnDoneMsg carries the result of one message round trip.
type turnDoneMsg struct {
	result *session.TurnResult
	err    error
}

// chatModel is the BubbleTea model for the chat client.
type chatModel struct {
	client    *apiClient
	sessionID string
	phase     session.Phase

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	lines   []chatLine
	waiting bool
	ready   bool
	width   int
	height  int
}

func newChatModel(client *apiClient, sessionID string) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Describe a project idea..."
	ta.Focus()
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := chatModel{
		client:    client,
		sessionID: sessionID,
		phase:     session.PhaseIdle,
		textarea:  ta,
		spinner:   sp,
	}
	if sessionID != "" {
		m.lines = append(m.lines, chatLine{
			label: "System", style: chatSystemStyle,
			text: "Resumed session " + sessionID,
		})
	}
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		taCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		inputHeight := m.textarea.Height() + 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - inputHeight
		}
		m.textarea.SetWidth(msg.Width - 2)
		m.refreshTranscript()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.waiting {
				break
			}
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" {
				break
			}
			m.textarea.Reset()
			m.lines = append(m.lines, chatLine{label: "You", style: chatUserStyle, text: text})
			m.refreshTranscript()
			m.waiting = true
			return m, tea.Batch(m.spinner.Tick, m.sendTurn(text))
		}

	case turnDoneMsg:
		m.waiting = false
		if msg.err != nil {
			m.lines = append(m.lines, chatLine{label: "Error", style: chatErrStyle, text: msg.err.Error()})
		} else {
			m.sessionID = msg.result.SessionID
			m.phase = msg.result.Phase
			for _, reply := range msg.result.Replies {
				m.lines = append(m.lines, chatLine{
					label: authorLabel(reply.Author),
					style: replyStyle(reply.Author),
					text:  reply.Text,
				})
			}
		}
		m.refreshTranscript()
	}

	m.textarea, taCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	if m.waiting {
		m.spinner, spCmd = m.spinner.Update(msg)
	}
	return m, tea.Batch(taCmd, vpCmd, spCmd)
}

func (m chatModel) View() string {
	if !m.ready {
		return "Starting chat..."
	}

	header := "Specification Factory"
	if m.sessionID != "" {
		header = fmt.Sprintf("Specification Factory — %s — %s", truncate(m.sessionID, 12), m.phase)
	}

	input := m.textarea.View()
	if m.waiting {
		input = m.spinner.View() + " agents are working..."
	}

	hint := chatHintStyle.Render("enter: send · esc: quit")
	return fmt.Sprintf("%s\n%s\n%s\n%s",
		chatHeaderStyle.Width(m.width).Render(header),
		m.viewport.View(),
		input,
		hint,
	)
}

// sendTurn posts the message off the UI goroutine.
func (m chatModel) sendTurn(text string) tea.Cmd {
	client := m.client
	sessionID := m.sessionID
	return func() tea.Msg {
		result, err := client.sendMessage(sessionID, text)
		return turnDoneMsg{result: result, err: err}
	}
}

// refreshTranscript re-renders the transcript into the viewport and
// follows the tail.
func (m *chatModel) refreshTranscript() {
	if !m.ready {
		return
	}
	wrap := lipgloss.NewStyle().Width(m.viewport.Width - 2)

	var b strings.Builder
	for i, line := range m.lines {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line.style.Render(line.label) + "\n")
		b.WriteString(wrap.Render(line.text) + "\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func replyStyle(a session.Author) lipgloss.Style {
	if a == session.AuthorSystem {
		return chatSystemStyle
	}
	return chatAgentStyle
}
