package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the NovaChat schema on
// PostgreSQL. Primary keys are UUID strings assigned by the application.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id                UUID PRIMARY KEY,
			username          VARCHAR(50)  UNIQUE NOT NULL,
			email             VARCHAR(100) UNIQUE,
			display_name      VARCHAR(100) NOT NULL DEFAULT '',
			hashed_password   VARCHAR(255) NOT NULL,
			profile_image_url TEXT,
			status            VARCHAR(10)  NOT NULL DEFAULT 'offline',
			is_active         BOOLEAN      NOT NULL DEFAULT TRUE,
			last_seen_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			created_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id              UUID PRIMARY KEY,
			type            VARCHAR(10)  NOT NULL DEFAULT 'private',
			name            VARCHAR(100),
			creator_id      UUID REFERENCES users(id),
			last_message_id UUID,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS chat_members (
			chat_id              UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			user_id              UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role                 VARCHAR(10) NOT NULL DEFAULT 'member',
			joined_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_read_message_id UUID,
			PRIMARY KEY (chat_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              UUID PRIMARY KEY,
			chat_id         UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			sender_id       UUID REFERENCES users(id),
			content         TEXT NOT NULL,
			content_type    VARCHAR(10) NOT NULL DEFAULT 'text',
			file_url        TEXT,
			delivery_status VARCHAR(10) NOT NULL DEFAULT 'sent',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`,
		`CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_members_user ON chat_members(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_members_chat ON chat_members(chat_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
