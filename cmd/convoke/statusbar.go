package main

import (
	"fmt"
	"time"

	"github.com/convokehq/convoke/pkg/invoker/usage"
)

// statusBarModel shows token usage and timing for the conversation.
type statusBarModel struct {
	tracker  *usage.Tracker
	modelID  string
	duration time.Duration
}

func newStatusBar(tracker *usage.Tracker, modelID string) statusBarModel {
	return statusBarModel{tracker: tracker, modelID: modelID}
}

func (m statusBarModel) View() string {
	total := m.tracker.Total()
	last, hasLast := m.tracker.Last()

	var line string
	switch {
	case hasLast && m.duration > 0:
		line = fmt.Sprintf(" last: ↑%s ↓%s · total: ↑%s ↓%s · %s · %s",
			fmtTokens(last.InputTokens),
			fmtTokens(last.OutputTokens),
			fmtTokens(total.InputTokens),
			fmtTokens(total.OutputTokens),
			m.modelID,
			fmtDuration(m.duration),
		)
	case total.InputTokens+total.OutputTokens > 0:
		line = fmt.Sprintf(" tokens: ↑%s ↓%s · %s",
			fmtTokens(total.InputTokens),
			fmtTokens(total.OutputTokens),
			m.modelID,
		)
	default:
		line = " " + m.modelID
	}

	return statusStyle.Render(line)
}
