package store

import (
	"fmt"
)

type migration struct {
	sqlite   string
	postgres string
}

var migrations = []migration{
	{
		sqlite: `create table if not exists conversations (
			id               integer primary key autoincrement,
			conversation_key text not null unique,
			display_name     text not null,
			last_activity_at integer not null,
			created_at       integer not null
		)`,
		postgres: `create table if not exists conversations (
			id               bigserial primary key,
			conversation_key text not null unique,
			display_name     text not null,
			last_activity_at bigint not null,
			created_at       bigint not null
		)`,
	},
	{
		sqlite: `create table if not exists messages (
			id               integer primary key autoincrement,
			external_id      text not null unique,
			conversation_key text not null references conversations(conversation_key),
			direction        text not null check(direction in ('inbound','outbound')),
			kind             text not null default 'text',
			body             text null,
			occurred_at      integer not null,
			status           text not null,
			sender_key       text not null
		)`,
		postgres: `create table if not exists messages (
			id               bigserial primary key,
			external_id      text not null unique,
			conversation_key text not null references conversations(conversation_key),
			direction        text not null check(direction in ('inbound','outbound')),
			kind             text not null default 'text',
			body             text null,
			occurred_at      bigint not null,
			status           text not null,
			sender_key       text not null
		)`,
	},
	{
		sqlite:   `create index if not exists messages_conversation_idx on messages(conversation_key, occurred_at)`,
		postgres: `create index if not exists messages_conversation_idx on messages(conversation_key, occurred_at)`,
	},
	{
		sqlite:   `create index if not exists conversations_activity_idx on conversations(last_activity_at)`,
		postgres: `create index if not exists conversations_activity_idx on conversations(last_activity_at)`,
	},
}

func (m migration) statement(driver string) string {
	if driver == driverPostgres {
		return m.postgres
	}
	return m.sqlite
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`create table if not exists schema_migrations (version integer not null)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var version int
	if err := s.db.Get(&version, `select coalesce(max(version), 0) from schema_migrations`); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i].statement(s.driver)); err != nil {
			return fmt.Errorf("applying migration %d: %w", i+1, err)
		}
	}
	if _, err := tx.Exec(`delete from schema_migrations`); err != nil {
		return fmt.Errorf("clearing schema version: %w", err)
	}
	if _, err := tx.Exec(tx.Rebind(`insert into schema_migrations (version) values (?)`), len(migrations)); err != nil {
		return fmt.Errorf("setting schema version %d: %w", len(migrations), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration transaction: %w", err)
	}
	return nil
}
