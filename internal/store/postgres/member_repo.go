package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
)

type MemberRepo struct {
	db *sql.DB
}

func NewMemberRepo(db *sql.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

var _ domain.MemberRepository = (*MemberRepo)(nil)

const memberColumns = `chat_id, user_id, role, joined_at, last_read_message_id`

func scanMember(row interface{ Scan(...any) error }) (*domain.ChatMember, error) {
	m := &domain.ChatMember{}
	err := row.Scan(
		&m.ChatID,
		&m.UserID,
		&m.Role,
		&m.JoinedAt,
		&m.LastReadMessageID,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MemberRepo) Get(ctx context.Context, chatID, userID string) (*domain.ChatMember, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM chat_members WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (r *MemberRepo) List(ctx context.Context, chatID string) ([]*domain.ChatMember, error) {
	// Ordered by join time with user id as the deterministic tie-break;
	// admin promotion picks the first row of this ordering.
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+memberColumns+` FROM chat_members
		WHERE chat_id = $1
		ORDER BY joined_at ASC, user_id ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var res []*domain.ChatMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *MemberRepo) ListWithUsers(ctx context.Context, chatID string) ([]*domain.MemberProfile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.chat_id, m.user_id, m.role, m.joined_at, m.last_read_message_id,
		       u.id, u.username, u.email, u.display_name, u.hashed_password,
		       u.profile_image_url, u.status, u.is_active, u.last_seen_at, u.created_at
		FROM chat_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.joined_at ASC, m.user_id ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list members with users: %w", err)
	}
	defer rows.Close()

	var res []*domain.MemberProfile
	for rows.Next() {
		m := &domain.ChatMember{}
		u := &domain.User{}
		err := rows.Scan(
			&m.ChatID,
			&m.UserID,
			&m.Role,
			&m.JoinedAt,
			&m.LastReadMessageID,
			&u.ID,
			&u.Username,
			&u.Email,
			&u.DisplayName,
			&u.HashedPassword,
			&u.ProfileImageURL,
			&u.Status,
			&u.IsActive,
			&u.LastSeenAt,
			&u.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan member profile: %w", err)
		}
		res = append(res, &domain.MemberProfile{Member: m, User: u})
	}
	return res, rows.Err()
}

func (r *MemberRepo) ListUserIDs(ctx context.Context, chatID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM chat_members WHERE chat_id = $1
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MemberRepo) AdvanceReadCursor(ctx context.Context, chatID, userID, messageID string, expected *string) (bool, error) {
	// Compare-and-set against the stored cursor so two concurrent markRead
	// calls cannot overwrite each other.
	res, err := r.db.ExecContext(ctx, `
		UPDATE chat_members SET last_read_message_id = $1
		WHERE chat_id = $2 AND user_id = $3 AND last_read_message_id IS NOT DISTINCT FROM $4
	`, messageID, chatID, userID, expected)
	if err != nil {
		return false, fmt.Errorf("advance read cursor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *MemberRepo) ApplyTransition(ctx context.Context, t *domain.MembershipTransition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, uid := range t.RemoveUserIDs {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2
		`, t.ChatID, uid); err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
	}

	if t.DeleteChat {
		// ON DELETE CASCADE clears members and messages with the chat row.
		if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, t.ChatID); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	}

	for _, m := range t.Add {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_members (chat_id, user_id, role, joined_at, last_read_message_id)
			VALUES ($1, $2, $3, $4, $5)
		`, m.ChatID, m.UserID, m.Role, m.JoinedAt, m.LastReadMessageID); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
	}

	for _, uid := range t.PromoteUserIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE chat_members SET role = $1 WHERE chat_id = $2 AND user_id = $3
		`, domain.RoleAdmin, t.ChatID, uid); err != nil {
			return fmt.Errorf("promote member: %w", err)
		}
	}

	for _, sys := range t.SystemMessages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, sender_id, content, content_type, file_url, delivery_status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, sys.ID, sys.ChatID, sys.SenderID, sys.Content, sys.ContentType, sys.FileURL, sys.DeliveryStatus, sys.CreatedAt); err != nil {
			return fmt.Errorf("insert system message: %w", err)
		}
	}

	if n := len(t.SystemMessages); n > 0 {
		last := t.SystemMessages[n-1]
		if _, err := tx.ExecContext(ctx, `
			UPDATE chats SET last_message_id = $1, updated_at = $2 WHERE id = $3
		`, last.ID, last.CreatedAt, t.ChatID); err != nil {
			return fmt.Errorf("set last message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
