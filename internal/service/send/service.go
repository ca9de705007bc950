package send

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"wainbox/internal/metrics"
	"wainbox/internal/model"
	"wainbox/internal/store"
)

type Config interface {
	BusinessAddress() string
}

type Database interface {
	Tx(ctx context.Context, fn func(tx *store.Tx) error) error
}

type service struct {
	db             Database
	businessNumber string
	now            func() time.Time
	newID          func() string
}

func New(config Config, db Database) *service {
	return &service{
		db:             db,
		businessNumber: config.BusinessAddress(),
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Send records an outbound text message in an existing conversation and moves
// the conversation's last activity to the send time. Nothing is handed to the
// provider here.
func (s *service) Send(ctx context.Context, key model.ConversationKey, text string) (model.ExternalID, error) {
	if strings.TrimSpace(text) == "" {
		metrics.Sends.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("%w: empty message", model.ErrorSendRejected)
	}

	sentAt := s.now().UTC()
	body := text
	message := &model.Message{
		ExternalID:      model.ExternalID(s.newID()),
		ConversationKey: key,
		Direction:       model.DirectionOutbound,
		Kind:            model.KindText,
		Body:            &body,
		OccurredAt:      sentAt,
		Status:          model.InitialStatus(model.DirectionOutbound),
		SenderKey:       s.businessNumber,
	}

	err := s.db.Tx(ctx, func(tx *store.Tx) error {
		if _, err := tx.FindConversation(ctx, key); err != nil {
			return err
		}
		inserted, err := tx.InsertMessage(ctx, message)
		if err != nil {
			return err
		}
		if !inserted {
			return model.ErrorDuplicateExternalID
		}
		_, err = tx.TouchConversation(ctx, key, sentAt)
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrorUnknownConversation) {
			metrics.Sends.WithLabelValues("rejected").Inc()
			return "", err
		}
		metrics.Sends.WithLabelValues("error").Inc()
		log.Errorf("send: to %s: %+v", key, err)
		return "", fmt.Errorf("%w: %v", model.ErrorTransactionFailure, err)
	}

	metrics.Sends.WithLabelValues("sent").Inc()
	return message.ExternalID, nil
}
