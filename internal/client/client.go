package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nrednav/cuid2"

	"wainbox/internal/model"
)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// HTTPClient talks to the wainbox API. It makes a single attempt per call;
// the sync loop's next tick is the retry.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// Fetch returns every conversation with its messages.
func (c *HTTPClient) Fetch(ctx context.Context) ([]model.Thread, error) {
	var out []model.Thread
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("fetching conversations: %w", err)
	}
	return out, nil
}

// Send records text in the conversation and returns its external id. A send
// the server refuses comes back as model.ErrorSendRejected or
// model.ErrorUnknownConversation.
func (c *HTTPClient) Send(ctx context.Context, key model.ConversationKey, text string) (model.ExternalID, error) {
	params := &model.SendParams{
		Contact: model.Contact{WaID: string(key)},
		Text:    text,
	}
	var result model.SendResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/send", params, &result); err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	if !result.Success {
		if result.Error == model.ErrorUnknownConversation.Error() {
			return "", model.ErrorUnknownConversation
		}
		return "", fmt.Errorf("%w: %s", model.ErrorSendRejected, result.Error)
	}
	return result.WaMsgID, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+c.token)
	}
	req.Header.Set(echo.HeaderXRequestID, cuid2.Generate())
	req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payloadBytes, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payloadBytes) == 0 {
			return nil
		}
		return json.Unmarshal(payloadBytes, out)
	}

	var errPayload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payloadBytes, &errPayload)
	message := errPayload.Error
	if message == "" {
		message = errPayload.Message
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", model.ErrorUnauthorized, message)
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: message}
}
