package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"wainbox/internal/model"
	"wainbox/internal/syncloop"
)

type renderer struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

// Render writes the state when it differs from what was last written.
func (r *renderer) Render(state syncloop.State) {
	text := format(state)

	r.mu.Lock()
	defer r.mu.Unlock()
	if text == r.last {
		return
	}
	r.last = text
	fmt.Fprint(r.out, text)
}

func format(state syncloop.State) string {
	sb := strings.Builder{}
	switch {
	case state.Loading:
		sb.WriteString("loading...\n")
		return sb.String()
	case state.Err != nil:
		fmt.Fprintf(&sb, "! %v\n", state.Err)
	}

	if len(state.Conversations) == 0 {
		sb.WriteString("No conversations\n")
	}
	for _, chat := range state.Conversations {
		unread := ""
		if chat.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d)", chat.UnreadCount)
		}
		fmt.Fprintf(&sb, "%-20s %-10s %s%s\n", chat.Name, chat.DisplayTime, chat.Preview, unread)
	}

	if state.Focused != nil {
		fmt.Fprintf(&sb, "--- %s\n", state.Focused.Name)
		for _, m := range state.Focused.Messages {
			arrow := "<"
			if m.Outbound {
				arrow = ">"
			}
			status := ""
			if m.Outbound {
				status = " [" + string(m.Status) + "]"
			}
			if m.Status == model.MessageStatusFailed {
				status += " " + m.TempID
			}
			fmt.Fprintf(&sb, "%s %s %s%s\n", m.Time, arrow, m.Text, status)
		}
	}
	sb.WriteString("\n")
	return sb.String()
}
