package model

import "time"

// ConversationKey is the counterparty address, e.g. a WhatsApp wa_id.
type ConversationKey string

type Conversation struct {
	ID              int64           `json:"id"`
	ConversationKey ConversationKey `json:"conversationKey"`
	DisplayName     string          `json:"displayName"`
	LastActivityAt  time.Time       `json:"lastActivityAt"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Thread is a conversation together with its messages ordered by occurrence.
type Thread struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}
