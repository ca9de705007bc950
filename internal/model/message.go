package model

import "time"

type ExternalID string

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Kind tags the message content. Only text is handled; the others are reserved.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

type Message struct {
	ID              int64           `json:"id"`
	ExternalID      ExternalID      `json:"externalId"`
	ConversationKey ConversationKey `json:"conversationKey"`
	Direction       Direction       `json:"direction"`
	Kind            Kind            `json:"kind"`
	Body            *string         `json:"body,omitempty"`
	OccurredAt      time.Time       `json:"occurredAt"`
	Status          MessageStatus   `json:"status"`
	SenderKey       string          `json:"senderKey"`
}

func (m *Message) Text() string {
	if m.Body == nil {
		return ""
	}
	return *m.Body
}

func (m *Message) IsInbound() bool {
	return m.Direction == DirectionInbound
}
