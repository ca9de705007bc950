package model

type Profile struct {
	Name string `json:"name"`
}

type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

type SendParams struct {
	Contact Contact `json:"contact"`
	Text    string  `json:"text"`
}

type SendResult struct {
	Success bool       `json:"success"`
	WaMsgID ExternalID `json:"waMsgId,omitempty"`
	Error   string     `json:"error,omitempty"`
}

type CreateSessionParams struct {
	Password string `json:"password"`
}

type Session struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}
