package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"wainbox/internal/model"
)

// Tx exposes the create/upsert/update/find primitives used by the ingestor
// and the send coordinator. It is only valid inside Store.Tx.
type Tx struct {
	tx *sqlx.Tx
}

type conversationRow struct {
	ID              int64  `db:"id"`
	ConversationKey string `db:"conversation_key"`
	DisplayName     string `db:"display_name"`
	LastActivityAt  int64  `db:"last_activity_at"`
	CreatedAt       int64  `db:"created_at"`
}

func (r *conversationRow) model() model.Conversation {
	return model.Conversation{
		ID:              r.ID,
		ConversationKey: model.ConversationKey(r.ConversationKey),
		DisplayName:     r.DisplayName,
		LastActivityAt:  fromMillis(r.LastActivityAt),
		CreatedAt:       fromMillis(r.CreatedAt),
	}
}

type messageRow struct {
	ID              int64          `db:"id"`
	ExternalID      string         `db:"external_id"`
	ConversationKey string         `db:"conversation_key"`
	Direction       string         `db:"direction"`
	Kind            string         `db:"kind"`
	Body            sql.NullString `db:"body"`
	OccurredAt      int64          `db:"occurred_at"`
	Status          string         `db:"status"`
	SenderKey       string         `db:"sender_key"`
}

func newMessageRow(m *model.Message) *messageRow {
	row := &messageRow{
		ExternalID:      string(m.ExternalID),
		ConversationKey: string(m.ConversationKey),
		Direction:       string(m.Direction),
		Kind:            string(m.Kind),
		OccurredAt:      toMillis(m.OccurredAt),
		Status:          string(m.Status),
		SenderKey:       m.SenderKey,
	}
	if row.Kind == "" {
		row.Kind = string(model.KindText)
	}
	if m.Body != nil {
		row.Body = sql.NullString{String: *m.Body, Valid: true}
	}
	return row
}

func (r *messageRow) model() model.Message {
	message := model.Message{
		ID:              r.ID,
		ExternalID:      model.ExternalID(r.ExternalID),
		ConversationKey: model.ConversationKey(r.ConversationKey),
		Direction:       model.Direction(r.Direction),
		Kind:            model.Kind(r.Kind),
		OccurredAt:      fromMillis(r.OccurredAt),
		Status:          model.MessageStatus(r.Status),
		SenderKey:       r.SenderKey,
	}
	if r.Body.Valid {
		body := r.Body.String
		message.Body = &body
	}
	return message
}

const selectConversation = `select id, conversation_key, display_name, last_activity_at, created_at from conversations`

const selectMessage = `select id, external_id, conversation_key, direction, kind, body, occurred_at, status, sender_key from messages`

func (t *Tx) FindConversation(ctx context.Context, key model.ConversationKey) (*model.Conversation, error) {
	row := &conversationRow{}
	err := t.tx.GetContext(ctx, row, t.tx.Rebind(selectConversation+` where conversation_key = ?`), string(key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUnknownConversation
		}
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}
	conversation := row.model()
	return &conversation, nil
}

// UpsertConversation creates the conversation with createdAt and activity as
// its last activity, or raises an existing conversation's last activity to
// activity if that is later. The display name is only written on creation.
func (t *Tx) UpsertConversation(ctx context.Context, key model.ConversationKey, displayName string, activity, createdAt time.Time) (bool, error) {
	row := &conversationRow{
		ConversationKey: string(key),
		DisplayName:     displayName,
		LastActivityAt:  toMillis(activity),
		CreatedAt:       toMillis(createdAt),
	}
	res, err := t.tx.NamedExecContext(ctx, `insert into conversations
		(conversation_key, display_name, last_activity_at, created_at)
		values(:conversation_key, :display_name, :last_activity_at, :created_at)
		on conflict (conversation_key) do nothing`, row)
	if err != nil {
		return false, fmt.Errorf("inserting conversation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	if _, err := t.TouchConversation(ctx, key, activity); err != nil {
		return false, err
	}
	return false, nil
}

// TouchConversation moves lastActivityAt forward to activity. It never moves
// it backwards and reports whether a row changed.
func (t *Tx) TouchConversation(ctx context.Context, key model.ConversationKey, activity time.Time) (bool, error) {
	ms := toMillis(activity)
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`update conversations
		set last_activity_at = ?
		where conversation_key = ? and last_activity_at < ?`), ms, string(key), ms)
	if err != nil {
		return false, fmt.Errorf("updating conversation activity: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rows == 1, nil
}

// InsertMessage persists m and sets its ID. A message whose external id is
// already stored is left untouched and InsertMessage returns false.
func (t *Tx) InsertMessage(ctx context.Context, m *model.Message) (bool, error) {
	row := newMessageRow(m)
	var id int64
	err := t.tx.QueryRowxContext(ctx, t.tx.Rebind(`insert into messages
		(external_id, conversation_key, direction, kind, body, occurred_at, status, sender_key)
		values(?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (external_id) do nothing
		returning id`),
		row.ExternalID, row.ConversationKey, row.Direction, row.Kind, row.Body, row.OccurredAt, row.Status, row.SenderKey,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("inserting message: %w", err)
	}
	m.ID = id
	return true, nil
}

func (t *Tx) FindMessage(ctx context.Context, externalID model.ExternalID) (*model.Message, error) {
	row := &messageRow{}
	err := t.tx.GetContext(ctx, row, t.tx.Rebind(selectMessage+` where external_id = ?`), string(externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorMessageNotFound
		}
		return nil, fmt.Errorf("fetching message: %w", err)
	}
	message := row.model()
	return &message, nil
}

// UpdateMessageStatus moves a message from one status to another, but only if
// it still has the from status. It reports whether the row changed.
func (t *Tx) UpdateMessageStatus(ctx context.Context, externalID model.ExternalID, from, to model.MessageStatus) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`update messages set status = ? where external_id = ? and status = ?`),
		string(to), string(externalID), string(from))
	if err != nil {
		return false, fmt.Errorf("updating message status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rows == 1, nil
}

const maxStatusAttempts = 5

// AdvanceMessageStatus reads the message and applies advance to its current
// status, retrying when another transaction changed the status between the
// read and the write. It returns the message as last read, with its status
// set to the stored result, and whether this call changed it.
func (t *Tx) AdvanceMessageStatus(ctx context.Context, externalID model.ExternalID, advance func(model.MessageStatus) (model.MessageStatus, bool)) (*model.Message, bool, error) {
	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		message, err := t.FindMessage(ctx, externalID)
		if err != nil {
			return nil, false, err
		}

		next, ok := advance(message.Status)
		if !ok {
			return message, false, nil
		}

		changed, err := t.UpdateMessageStatus(ctx, externalID, message.Status, next)
		if err != nil {
			return nil, false, err
		}
		if changed {
			message.Status = next
			return message, true, nil
		}
	}
	return nil, false, fmt.Errorf("updating status of %s: still changing after %d attempts", externalID, maxStatusAttempts)
}
