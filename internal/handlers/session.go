package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"wainbox/internal/model"
)

type SessionService interface {
	Create(params *model.CreateSessionParams) (*model.Session, error)
}

type KeyPublisher interface {
	PublicKey() (string, error)
	KeyID() string
}

func CreateSession(sessionService SessionService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.CreateSessionParams{}
		if err := c.Bind(params); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request"})
		}
		session, err := sessionService.Create(params)
		switch {
		case err == nil:
			return c.JSON(http.StatusOK, session)
		case errors.Is(err, model.ErrorInvalidPassword):
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Invalid password"})
		case errors.Is(err, model.ErrorUnauthorized):
			return c.JSON(http.StatusNotFound, errorResponse{Error: "Authentication disabled"})
		}
		return err
	}
}

// GetSigningKey publishes the key operator tokens verify against.
func GetSigningKey(keys KeyPublisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		keyEncoded, err := keys.PublicKey()
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]string{"kid": keys.KeyID(), "key": keyEncoded})
	}
}
