package model

type MessageStatus string

const (
	// MessageStatusSending only exists on the client while a send is in flight.
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusReceived  MessageStatus = "received"
)

var statusRank = map[MessageStatus]int{
	MessageStatusSending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

func (s MessageStatus) IsValid() bool {
	switch s {
	case MessageStatusSending, MessageStatusSent, MessageStatusDelivered,
		MessageStatusRead, MessageStatusFailed, MessageStatusReceived:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusRead || s == MessageStatusFailed || s == MessageStatusReceived
}

// Advance applies an observed status event to the current status and returns
// the resulting status. The second result is false when the event is ignored:
// lower or equal rank, terminal current state, or an unknown event value.
func Advance(current, event MessageStatus) (MessageStatus, bool) {
	if current.IsTerminal() || !event.IsValid() {
		return current, false
	}

	if event == MessageStatusFailed {
		if current == MessageStatusSending || current == MessageStatusSent {
			return MessageStatusFailed, true
		}
		return current, false
	}

	eventRank, ok := statusRank[event]
	if !ok || event == MessageStatusSending {
		return current, false
	}
	if eventRank <= statusRank[current] {
		return current, false
	}
	return event, true
}

// InitialStatus is the status a persisted message starts in.
func InitialStatus(direction Direction) MessageStatus {
	if direction == DirectionOutbound {
		return MessageStatusSent
	}
	return MessageStatusReceived
}
