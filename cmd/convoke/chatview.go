package main

import "fmt"

// chatViewModel renders the live region of the chat: a spinner line while a
// call is in flight. Committed turns are printed to the terminal scrollback
// via tea.Println and never re-rendered.
type chatViewModel struct {
	processing    bool
	spinnerIdx    int
	processingMsg string
}

func (m chatViewModel) View() string {
	if !m.processing {
		return ""
	}
	frame := spinnerFrames[m.spinnerIdx%len(spinnerFrames)]
	return fmt.Sprintf("  %s %s\n",
		spinnerStyle.Render(frame),
		spinnerStyle.Render(m.processingMsg),
	)
}

// setProcessing sets the processing state and picks a random spinner message.
func (m *chatViewModel) setProcessing(on bool) {
	m.processing = on
	if on {
		m.processingMsg = randomThinkingMessage()
	}
}

// advanceSpinner increments the spinner frame.
func (m *chatViewModel) advanceSpinner() {
	m.spinnerIdx++
}
