package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, chat_id, sender_id, content, content_type, file_url, delivery_status, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	m := &domain.Message{}
	err := row.Scan(
		&m.ID,
		&m.ChatID,
		&m.SenderID,
		&m.Content,
		&m.ContentType,
		&m.FileURL,
		&m.DeliveryStatus,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ChatID, m.SenderID, m.Content, m.ContentType, m.FileURL, m.DeliveryStatus, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) GetLatest(ctx context.Context, chatID string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, chatID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListForChat(ctx context.Context, chatID string, limit, offset int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *MessageRepo) ListUnreadUpTo(ctx context.Context, chatID, readerID string, upTo time.Time) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		  AND sender_id IS NOT NULL
		  AND sender_id <> ?
		  AND created_at <= ?
		  AND delivery_status <> ?
		ORDER BY created_at ASC, id ASC
	`, chatID, readerID, upTo, domain.DeliveryRead)
	if err != nil {
		return nil, fmt.Errorf("list unread messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *MessageRepo) MarkDelivered(ctx context.Context, id string) (bool, error) {
	// Guarded so a late probe can never demote a message already read.
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = ?
		WHERE id = ? AND delivery_status = ?
	`, domain.DeliveryDelivered, id, domain.DeliverySent)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = strings.TrimSuffix(placeholders, ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, domain.DeliveryRead)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, domain.DeliveryRead)
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = ?
		WHERE id IN (`+placeholders+`) AND delivery_status <> ?
	`, args...)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (r *MessageRepo) CountAfter(ctx context.Context, chatID, excludeSenderID string, after *time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages
		WHERE chat_id = ? AND (sender_id IS NULL OR sender_id <> ?)
	`
	args := []any{chatID, excludeSenderID}
	if after != nil {
		query += " AND created_at > ?"
		args = append(args, *after)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func collectMessages(rows *sql.Rows) ([]*domain.Message, error) {
	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
