package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"wainbox/internal/metrics"
	"wainbox/internal/service/ingest"
	"wainbox/pkg/webhook"
)

type Ingestor interface {
	Ingest(ctx context.Context, event *webhook.Event) (ingest.Outcome, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Webhook accepts provider deliveries. When appSecret is set the body must
// carry a matching X-Hub-Signature-256.
func Webhook(ingestor Ingestor, appSecret string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := c.Request().Body
		defer body.Close()

		rawRequest, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("reading request body: %w", err)
		}

		if appSecret != "" {
			if err := webhook.VerifySignature(appSecret, rawRequest, c.Request().Header.Get(webhook.SignatureHeader)); err != nil {
				metrics.WebhookEvents.WithLabelValues("unknown", "unauthorized").Inc()
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Invalid signature"})
			}
		}

		event, err := webhook.Parse(rawRequest)
		if err != nil {
			metrics.WebhookEvents.WithLabelValues("unknown", "invalid").Inc()
			c.Logger().Infof("webhook: rejected payload: %v", err)
			if errors.Is(err, webhook.ErrorInvalidPayloadType) {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid payload type"})
			}
			if errors.Is(err, webhook.ErrorInvalidPayload) {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid payload"})
			}
			return fmt.Errorf("parsing webhook: %w", err)
		}

		outcome, err := ingestor.Ingest(c.Request().Context(), event)
		if err != nil {
			c.Logger().Errorf("webhook: %s event: %+v", event.Kind, err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		}
		c.Logger().Debugf("webhook: %s event %s", event.Kind, outcome)

		return c.JSON(http.StatusOK, ackResponse{Success: true, Message: "Payload processed successfully"})
	}
}

// VerifyWebhook answers the provider's subscription handshake.
func VerifyWebhook(verifyToken string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if verifyToken == "" {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "Not found"})
		}
		challenge, err := webhook.Challenge(c.QueryParams(), verifyToken)
		if err != nil {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "Forbidden"})
		}
		return c.String(http.StatusOK, challenge)
	}
}
