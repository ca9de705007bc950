package store

import (
	"context"
	"fmt"

	"wainbox/internal/model"
)

// ListThreads returns every conversation, most recently active first, each
// with its messages in occurrence order.
func (s *Store) ListThreads(ctx context.Context) ([]model.Thread, error) {
	var threads []model.Thread
	err := s.Tx(ctx, func(tx *Tx) error {
		conversations := []conversationRow{}
		err := tx.tx.SelectContext(ctx, &conversations,
			selectConversation+` order by last_activity_at desc, conversation_key`)
		if err != nil {
			return fmt.Errorf("listing conversations: %w", err)
		}

		messages := []messageRow{}
		err = tx.tx.SelectContext(ctx, &messages,
			selectMessage+` order by conversation_key, occurred_at, external_id`)
		if err != nil {
			return fmt.Errorf("listing messages: %w", err)
		}

		byKey := make(map[string][]model.Message, len(conversations))
		for i := range messages {
			byKey[messages[i].ConversationKey] = append(byKey[messages[i].ConversationKey], messages[i].model())
		}

		threads = make([]model.Thread, 0, len(conversations))
		for i := range conversations {
			msgs := byKey[conversations[i].ConversationKey]
			if msgs == nil {
				msgs = []model.Message{}
			}
			threads = append(threads, model.Thread{
				Conversation: conversations[i].model(),
				Messages:     msgs,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return threads, nil
}

// GetThread returns one conversation with its messages, or
// model.ErrorUnknownConversation.
func (s *Store) GetThread(ctx context.Context, key model.ConversationKey) (*model.Thread, error) {
	var thread *model.Thread
	err := s.Tx(ctx, func(tx *Tx) error {
		conversation, err := tx.FindConversation(ctx, key)
		if err != nil {
			return err
		}

		messages := []messageRow{}
		err = tx.tx.SelectContext(ctx, &messages,
			tx.tx.Rebind(selectMessage+` where conversation_key = ? order by occurred_at, external_id`), string(key))
		if err != nil {
			return fmt.Errorf("listing messages: %w", err)
		}

		thread = &model.Thread{Conversation: *conversation, Messages: make([]model.Message, 0, len(messages))}
		for i := range messages {
			thread.Messages = append(thread.Messages, messages[i].model())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return thread, nil
}
