package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"

	"wainbox/internal/metrics"
	"wainbox/internal/model"
	"wainbox/internal/store"
	"wainbox/pkg/webhook"
)

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUpdated   Outcome = "updated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeIgnored   Outcome = "ignored"
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
}

func New(config Config, db Database) *service {
	return &service{
		db:             db,
		businessNumber: config.BusinessAddress(),
		now:            time.Now,
	}
}

// Ingest persists one classified webhook event. Provider anomalies such as a
// redelivered message, a status for an unknown message or a status that would
// move backwards are absorbed and reported through the outcome. Only store
// failures are returned, wrapped in model.ErrorTransactionFailure.
func (s *service) Ingest(ctx context.Context, event *webhook.Event) (Outcome, error) {
	var (
		outcome Outcome
		err     error
	)
	switch event.Kind {
	case webhook.EventMessage:
		outcome, err = s.ingestMessage(ctx, event.Message)
	case webhook.EventStatus:
		outcome, err = s.ingestStatus(ctx, event.Status)
	default:
		outcome = OutcomeIgnored
	}

	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(event.Kind), "error").Inc()
		return "", fmt.Errorf("%w: %v", model.ErrorTransactionFailure, err)
	}
	metrics.WebhookEvents.WithLabelValues(string(event.Kind), string(outcome)).Inc()
	return outcome, nil
}

func (s *service) ingestMessage(ctx context.Context, event *webhook.MessageEvent) (Outcome, error) {
	key := model.ConversationKey(event.ContactID)
	direction := model.DirectionInbound
	if event.From == s.businessNumber {
		direction = model.DirectionOutbound
	}

	message := &model.Message{
		ExternalID:      model.ExternalID(event.ID),
		ConversationKey: key,
		Direction:       direction,
		Kind:            model.Kind(event.Type),
		Body:            event.Body,
		OccurredAt:      event.Timestamp,
		Status:          model.InitialStatus(direction),
		SenderKey:       event.From,
	}

	outcome := OutcomeCreated
	err := s.db.Tx(ctx, func(tx *store.Tx) error {
		if _, err := tx.UpsertConversation(ctx, key, event.ContactName, event.Timestamp, s.now().UTC()); err != nil {
			return err
		}
		inserted, err := tx.InsertMessage(ctx, message)
		if err != nil {
			return err
		}
		if !inserted {
			outcome = OutcomeDuplicate
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeDuplicate {
		log.Infof("ingest: duplicate message %s from %s skipped", event.ID, event.From)
	}
	return outcome, nil
}

func (s *service) ingestStatus(ctx context.Context, event *webhook.StatusEvent) (Outcome, error) {
	externalID := model.ExternalID(event.ID)
	observed := model.MessageStatus(event.Status)

	outcome := OutcomeUpdated
	err := s.db.Tx(ctx, func(tx *store.Tx) error {
		message, changed, err := tx.AdvanceMessageStatus(ctx, externalID, func(current model.MessageStatus) (model.MessageStatus, bool) {
			return model.Advance(current, observed)
		})
		if err != nil {
			if errors.Is(err, model.ErrorMessageNotFound) {
				log.Infof("ingest: status %q for unknown message %s skipped", event.Status, event.ID)
				outcome = OutcomeSkipped
				return nil
			}
			return err
		}
		if !changed {
			log.Warnf("ingest: status %q for message %s in state %q ignored", event.Status, event.ID, message.Status)
			outcome = OutcomeSkipped
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}
