package webhook

// PayloadTypeWhatsApp is the discriminator every accepted envelope carries.
const PayloadTypeWhatsApp = "whatsapp_webhook"

type Envelope struct {
	PayloadType string   `json:"payload_type"`
	MetaData    MetaData `json:"metaData"`
}

type MetaData struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

type Profile struct {
	Name string `json:"name"`
}

type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Text      *Text  `json:"text,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Status struct {
	ID          string `json:"id"`
	MetaMsgID   string `json:"meta_msg_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// change returns the first change record, the only one the provider populates.
func (e *Envelope) change() (*Change, bool) {
	if len(e.MetaData.Entry) == 0 || len(e.MetaData.Entry[0].Changes) == 0 {
		return nil, false
	}
	return &e.MetaData.Entry[0].Changes[0], true
}
