package view

import (
	"sort"
	"time"

	"wainbox/internal/model"
)

const (
	NoMessages   = "No messages"
	Yesterday    = "Yesterday"
	UnreadWindow = 60 * time.Minute

	ClockLayout = "15:04"
	dateLayout  = "2006-01-02"
)

// MessageView is one row of a chat. Optimistic rows have a TempID and, until
// the send completes, no ExternalID.
type MessageView struct {
	ID         int64               `json:"id,omitempty"`
	TempID     string              `json:"tempId,omitempty"`
	ExternalID model.ExternalID    `json:"externalId,omitempty"`
	Text       string              `json:"text"`
	Outbound   bool                `json:"outbound"`
	Time       string              `json:"time"`
	Status     model.MessageStatus `json:"status"`
	OccurredAt time.Time           `json:"occurredAt"`
}

type ChatView struct {
	ConversationKey model.ConversationKey `json:"conversationKey"`
	Name            string                `json:"name"`
	Preview         string                `json:"preview"`
	DisplayTime     string                `json:"displayTime"`
	UnreadCount     int                   `json:"unreadCount"`
	LastActivityAt  time.Time             `json:"lastActivityAt"`
	Messages        []MessageView         `json:"messages"`
}

// Project derives the client view of one conversation. It does not modify
// thread and gives equal output for equal input; now and its location decide
// the unread window and the calendar used for DisplayTime.
func Project(thread *model.Thread, now time.Time) ChatView {
	messages := make([]model.Message, len(thread.Messages))
	copy(messages, thread.Messages)
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].OccurredAt.Equal(messages[j].OccurredAt) {
			return messages[i].ExternalID < messages[j].ExternalID
		}
		return messages[i].OccurredAt.Before(messages[j].OccurredAt)
	})

	conversation := thread.Conversation
	chat := ChatView{
		ConversationKey: conversation.ConversationKey,
		Name:            displayName(&conversation),
		Preview:         NoMessages,
		LastActivityAt:  conversation.LastActivityAt,
		Messages:        make([]MessageView, 0, len(messages)),
	}

	cutoff := now.Add(-UnreadWindow)
	for i := range messages {
		m := &messages[i]
		chat.Messages = append(chat.Messages, messageView(m, now.Location()))
		if m.IsInbound() && m.OccurredAt.After(cutoff) {
			chat.UnreadCount++
		}
	}

	if len(messages) > 0 {
		last := &messages[len(messages)-1]
		chat.Preview = last.Text()
		chat.DisplayTime = FormatRelative(last.OccurredAt, now)
	}
	return chat
}

// ProjectAll projects every thread, most recently active first.
func ProjectAll(threads []model.Thread, now time.Time) []ChatView {
	chats := make([]ChatView, 0, len(threads))
	for i := range threads {
		chats = append(chats, Project(&threads[i], now))
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].LastActivityAt.Equal(chats[j].LastActivityAt) {
			return chats[i].ConversationKey < chats[j].ConversationKey
		}
		return chats[i].LastActivityAt.After(chats[j].LastActivityAt)
	})
	return chats
}

func displayName(c *model.Conversation) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return "+" + string(c.ConversationKey)
}

func messageView(m *model.Message, loc *time.Location) MessageView {
	return MessageView{
		ID:         m.ID,
		ExternalID: m.ExternalID,
		Text:       m.Text(),
		Outbound:   !m.IsInbound(),
		Time:       m.OccurredAt.In(loc).Format(ClockLayout),
		Status:     m.Status,
		OccurredAt: m.OccurredAt,
	}
}

// FormatRelative renders t against now's calendar: clock time on the same
// day, "Yesterday" on the day before, the date otherwise.
func FormatRelative(t, now time.Time) string {
	local := t.In(now.Location())
	y, m, d := local.Date()
	ny, nm, nd := now.Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, now.Location())
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	switch {
	case day.Equal(today):
		return local.Format(ClockLayout)
	case day.Equal(today.AddDate(0, 0, -1)):
		return Yesterday
	}
	return local.Format(dateLayout)
}

// Append returns a copy of c with extra rows after its messages, used to
// overlay sends that the store has not confirmed yet. Preview follows the
// last row.
func (c ChatView) Append(rows ...MessageView) ChatView {
	if len(rows) == 0 {
		return c
	}
	messages := make([]MessageView, 0, len(c.Messages)+len(rows))
	messages = append(messages, c.Messages...)
	messages = append(messages, rows...)
	c.Messages = messages
	c.Preview = rows[len(rows)-1].Text
	return c
}
