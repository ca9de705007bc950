package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"wainbox/internal/model"
)

type Sender interface {
	Send(ctx context.Context, key model.ConversationKey, text string) (model.ExternalID, error)
}

type ThreadReader interface {
	ListThreads(ctx context.Context) ([]model.Thread, error)
	GetThread(ctx context.Context, key model.ConversationKey) (*model.Thread, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Send records an outbound message. Rejections are reported in the body with
// success false; only store failures produce a 500.
func Send(sender Sender) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.SendParams{}
		if err := c.Bind(params); err != nil {
			return c.JSON(http.StatusBadRequest, model.SendResult{Error: "Invalid request"})
		}

		id, err := sender.Send(c.Request().Context(), model.ConversationKey(params.Contact.WaID), params.Text)
		switch {
		case err == nil:
			return c.JSON(http.StatusOK, model.SendResult{Success: true, WaMsgID: id})
		case errors.Is(err, model.ErrorUnknownConversation), errors.Is(err, model.ErrorSendRejected):
			return c.JSON(http.StatusOK, model.SendResult{Error: err.Error()})
		}
		c.Logger().Errorf("send: %+v", err)
		return c.JSON(http.StatusInternalServerError, model.SendResult{Error: "Internal server error"})
	}
}

func ListConversations(reader ThreadReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		threads, err := reader.ListThreads(c.Request().Context())
		if err != nil {
			c.Logger().Errorf("listing conversations: %+v", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		}
		if threads == nil {
			threads = []model.Thread{}
		}
		return c.JSON(http.StatusOK, threads)
	}
}

func GetConversation(reader ThreadReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := model.ConversationKey(c.Param("conversationKey"))
		thread, err := reader.GetThread(c.Request().Context(), key)
		if err != nil {
			if errors.Is(err, model.ErrorUnknownConversation) {
				return c.JSON(http.StatusNotFound, errorResponse{Error: "Conversation not found"})
			}
			c.Logger().Errorf("fetching conversation %s: %+v", key, err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		}
		return c.JSON(http.StatusOK, thread)
	}
}

func Health(pinger Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := pinger.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}
