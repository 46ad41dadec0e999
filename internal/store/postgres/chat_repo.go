package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
)

type ChatRepo struct {
	db *sql.DB
}

func NewChatRepo(db *sql.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

var _ domain.ChatRepository = (*ChatRepo)(nil)

const chatColumns = `id, type, name, creator_id, last_message_id, created_at, updated_at`

func scanChat(row interface{ Scan(...any) error }) (*domain.Chat, error) {
	c := &domain.Chat{}
	err := row.Scan(
		&c.ID,
		&c.Type,
		&c.Name,
		&c.CreatorID,
		&c.LastMessageID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ChatRepo) Create(ctx context.Context, c *domain.Chat, members []*domain.ChatMember, sys *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (`+chatColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Type, c.Name, c.CreatorID, c.LastMessageID, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	for _, m := range members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_members (chat_id, user_id, role, joined_at, last_read_message_id)
			VALUES ($1, $2, $3, $4, $5)
		`, m.ChatID, m.UserID, m.Role, m.JoinedAt, m.LastReadMessageID); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}

	if sys != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, sender_id, content, content_type, file_url, delivery_status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, sys.ID, sys.ChatID, sys.SenderID, sys.Content, sys.ContentType, sys.FileURL, sys.DeliveryStatus, sys.CreatedAt); err != nil {
			return fmt.Errorf("insert system message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE chats SET last_message_id = $1, updated_at = $2 WHERE id = $3
		`, sys.ID, sys.CreatedAt, c.ID); err != nil {
			return fmt.Errorf("set last message: %w", err)
		}
		c.LastMessageID = &sys.ID
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ChatRepo) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func (r *ChatRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.type, c.name, c.creator_id, c.last_message_id, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id
		WHERE cm.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var res []*domain.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *ChatRepo) FindPrivateBetween(ctx context.Context, userA, userB string) (*domain.Chat, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT c.id, c.type, c.name, c.creator_id, c.last_message_id, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_members m1 ON m1.chat_id = c.id AND m1.user_id = $1
		JOIN chat_members m2 ON m2.chat_id = c.id AND m2.user_id = $2
		WHERE c.type = $3
		LIMIT 1
	`, userA, userB, domain.ChatTypePrivate)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find private chat: %w", err)
	}
	return c, nil
}

func (r *ChatRepo) SetLastMessage(ctx context.Context, chatID, messageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chats SET last_message_id = $1, updated_at = NOW() WHERE id = $2
	`, messageID, chatID)
	if err != nil {
		return fmt.Errorf("set last message: %w", err)
	}
	return nil
}
