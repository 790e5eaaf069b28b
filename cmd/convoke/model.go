package main

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// appState represents the application state machine.
type appState int

const (
	stateIdle appState = iota
	stateProcessing
)

// appModel is the root bubbletea model.
type appModel struct {
	ctx        context.Context
	sess       *session
	chatView   chatViewModel
	inputBox   inputModel
	statusBar  statusBarModel
	state      appState
	cancelSend context.CancelFunc
	width      int
	height     int
	sendStart  time.Time
}

func newAppModel(ctx context.Context, sess *session) appModel {
	return appModel{
		ctx:       ctx,
		sess:      sess,
		inputBox:  newInput(),
		statusBar: newStatusBar(sess.Usage(), sess.ModelID()),
		state:     stateIdle,
	}
}

func (m appModel) Init() tea.Cmd {
	// Delay focusing the input so that stale terminal escape-sequence
	// responses (e.g. OSC 11 background-color) are drained first.
	return tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg {
		return initDrainMsg{}
	})
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case initDrainMsg:
		cmd := m.inputBox.enable()
		return m, cmd

	case inputSubmitMsg:
		return m.handleSubmit(msg)

	case sendCompleteMsg:
		return m.handleSendComplete(msg)

	case tickMsg:
		if m.state == stateProcessing {
			m.chatView.advanceSpinner()
			return m, tickCmd()
		}
		return m, nil
	}

	// Delegate to the input box when idle.
	if m.state == stateIdle {
		var cmd tea.Cmd
		m.inputBox, cmd = m.inputBox.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m appModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.chatView.View(),
		m.inputBox.View(),
		m.statusBar.View(),
	)
}

func (m *appModel) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	initMarkdownRenderer(m.width - 4)
	m.inputBox.setWidth(m.width)

	return m, nil
}

func (m *appModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.cancelSend != nil {
			m.cancelSend()
		}
		return m, tea.Quit

	case tea.KeyEsc:
		if m.state == stateProcessing && m.cancelSend != nil {
			m.cancelSend()
			m.cancelSend = nil
		}
		return m, nil
	}

	// Forward to the input box when idle.
	if m.state == stateIdle {
		var cmd tea.Cmd
		m.inputBox, cmd = m.inputBox.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *appModel) handleSubmit(msg inputSubmitMsg) (tea.Model, tea.Cmd) {
	text := msg.text

	switch text {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		return m, tea.Println(helpText())
	case "/clear":
		m.sess.Reset()
		return m, tea.Println(dimStyle.Render("conversation cleared"))
	}

	m.state = stateProcessing
	m.inputBox.disable()
	m.chatView.setProcessing(true)
	m.sendStart = time.Now()

	sendCtx, cancel := context.WithCancel(m.ctx)
	m.cancelSend = cancel

	// Start the send in a background goroutine via tea.Cmd.
	sess := m.sess
	start := m.sendStart
	sendCmd := func() tea.Msg {
		answer, err := sess.Send(sendCtx, text)
		return sendCompleteMsg{answer: answer, err: err, duration: time.Since(start)}
	}

	return m, tea.Batch(tea.Println(renderUserMessage(text)), sendCmd, tickCmd())
}

func (m *appModel) handleSendComplete(msg sendCompleteMsg) (tea.Model, tea.Cmd) {
	m.state = stateIdle
	m.cancelSend = nil
	m.chatView.setProcessing(false)
	m.statusBar.duration = msg.duration

	focusCmd := m.inputBox.enable()

	if msg.err != nil {
		if m.ctx.Err() != nil {
			return m, tea.Quit
		}
		line := errorBlockStyle.Render("error: " + msg.err.Error())
		if errors.Is(msg.err, context.Canceled) {
			line = dimStyle.Render("canceled")
		}
		return m, tea.Batch(tea.Println(line), focusCmd)
	}

	answer := "\n" + answerBlockStyle.Render(
		answerPrefixStyle.Render("🤖 "+m.sess.ModelID()+" > ")+renderMarkdown(msg.answer),
	)
	return m, tea.Batch(tea.Println(answer), focusCmd)
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func helpText() string {
	return dimStyle.Render(
		"Commands:\n" +
			"  /help          Show this help message\n" +
			"  /clear         Clear the conversation\n" +
			"  /quit          Exit the chat\n\n" +
			"Shortcuts:\n" +
			"  Enter          Submit message\n" +
			"  Alt+Enter      New line\n" +
			"  Escape         Cancel the call in flight\n" +
			"  Ctrl+C         Exit",
	)
}
