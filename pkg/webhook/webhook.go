package webhook

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchemaURL = "https://wainbox.local/schemas/envelope.schema.json"

//go:embed envelope.schema.json
var envelopeSchemaJSON string

var (
	ErrorInvalidPayload     = errors.New("invalid payload")
	ErrorInvalidPayloadType = fmt.Errorf("%w: payload type", ErrorInvalidPayload)
)

type EventKind string

const (
	EventMessage EventKind = "message"
	EventStatus  EventKind = "status"
	EventIgnored EventKind = "ignored"
)

// Event is the strict form of an envelope: exactly one of Message or Status is
// set, matching Kind. Ignored events carry neither.
type Event struct {
	Kind    EventKind
	Message *MessageEvent
	Status  *StatusEvent
}

type MessageEvent struct {
	ContactID          string
	ContactName        string
	ID                 string
	From               string
	Type               string
	Body               *string
	Timestamp          time.Time
	DisplayPhoneNumber string
}

type StatusEvent struct {
	ID          string
	Status      string
	RecipientID string
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func envelopeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("decoding envelope schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(envelopeSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("adding envelope schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(envelopeSchemaURL)
	})
	return schema, schemaErr
}

// Parse validates a raw webhook body and classifies it. A change record with a
// statuses collection is a status event, otherwise one with a messages
// collection is a message event, anything else is ignored.
func Parse(data []byte) (*Event, error) {
	var discriminator struct {
		PayloadType *string `json:"payload_type"`
	}
	if err := json.Unmarshal(data, &discriminator); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrorInvalidPayload, err)
	}
	if discriminator.PayloadType == nil || *discriminator.PayloadType != PayloadTypeWhatsApp {
		return nil, ErrorInvalidPayloadType
	}

	sch, err := envelopeSchema()
	if err != nil {
		return nil, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrorInvalidPayload, err)
	}
	if err := sch.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrorInvalidPayload, err)
	}

	envelope := &Envelope{}
	if err := json.Unmarshal(data, envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrorInvalidPayload, err)
	}

	return classify(envelope)
}

func classify(envelope *Envelope) (*Event, error) {
	change, ok := envelope.change()
	if !ok {
		return &Event{Kind: EventIgnored}, nil
	}

	switch {
	case len(change.Value.Statuses) > 0:
		status, err := statusEvent(&change.Value)
		if err != nil {
			return nil, err
		}
		return &Event{Kind: EventStatus, Status: status}, nil
	case len(change.Value.Messages) > 0:
		message, err := messageEvent(&change.Value)
		if err != nil {
			return nil, err
		}
		return &Event{Kind: EventMessage, Message: message}, nil
	}
	return &Event{Kind: EventIgnored}, nil
}

func messageEvent(value *Value) (*MessageEvent, error) {
	if len(value.Contacts) == 0 || value.Contacts[0].WaID == "" {
		return nil, fmt.Errorf("%w: message event without contact", ErrorInvalidPayload)
	}
	contact := value.Contacts[0]
	message := value.Messages[0]

	seconds, err := strconv.ParseInt(message.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp %q", ErrorInvalidPayload, message.Timestamp)
	}

	messageType := message.Type
	if messageType == "" {
		messageType = "text"
	}

	var body *string
	if message.Text != nil {
		text := message.Text.Body
		body = &text
	}

	return &MessageEvent{
		ContactID:          contact.WaID,
		ContactName:        contact.Profile.Name,
		ID:                 message.ID,
		From:               message.From,
		Type:               messageType,
		Body:               body,
		Timestamp:          time.Unix(seconds, 0).UTC(),
		DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
	}, nil
}

func statusEvent(value *Value) (*StatusEvent, error) {
	status := value.Statuses[0]
	id := status.ID
	if id == "" {
		id = status.MetaMsgID
	}
	if id == "" {
		return nil, fmt.Errorf("%w: status event without message id", ErrorInvalidPayload)
	}
	return &StatusEvent{
		ID:          id,
		Status:      status.Status,
		RecipientID: status.RecipientID,
	}, nil
}
