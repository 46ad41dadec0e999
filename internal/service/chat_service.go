package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/security"
)

// ChatService covers chat lookup, private chat creation, chat listings with
// unread counts, and message history. Group lifecycle lives in
// MembershipService.
type ChatService struct {
	chats     domain.ChatRepository
	members   domain.MemberRepository
	messages  domain.MessageRepository
	users     domain.UserRepository
	encryptor *security.Encryptor

	HistoryLimit int
}

func NewChatService(
	chats domain.ChatRepository,
	members domain.MemberRepository,
	messages domain.MessageRepository,
	users domain.UserRepository,
	encryptor *security.Encryptor,
	historyLimit int,
) *ChatService {
	return &ChatService{
		chats:        chats,
		members:      members,
		messages:     messages,
		users:        users,
		encryptor:    encryptor,
		HistoryLimit: historyLimit,
	}
}

// ChatSummary is a chat enriched with its roster, decrypted last message and
// the caller's unread count, shaped for the chat list endpoint.
type ChatSummary struct {
	Chat        *domain.Chat
	Members     []*domain.User
	LastMessage *domain.Message
	UnreadCount int
}

// CreatePrivateChat returns the existing private chat between the two users
// or creates one. The second return value reports whether a chat was created.
func (s *ChatService) CreatePrivateChat(ctx context.Context, creatorID, otherUserID string) (*domain.Chat, bool, error) {
	if otherUserID == "" {
		return nil, false, fmt.Errorf("%w: target user is required", domain.ErrValidation)
	}
	if otherUserID == creatorID {
		return nil, false, fmt.Errorf("%w: cannot open a private chat with yourself", domain.ErrValidation)
	}

	other, err := s.users.GetByID(ctx, otherUserID)
	if err != nil {
		return nil, false, fmt.Errorf("get user: %w", err)
	}
	if other == nil || !other.IsActive {
		return nil, false, fmt.Errorf("%w: user %s", domain.ErrNotFound, otherUserID)
	}

	existing, err := s.chats.FindPrivateBetween(ctx, creatorID, otherUserID)
	if err != nil {
		return nil, false, fmt.Errorf("find private chat: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now()
	chat := &domain.Chat{
		ID:        uuid.NewString(),
		Type:      domain.ChatTypePrivate,
		CreatorID: &creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	members := []*domain.ChatMember{
		{ChatID: chat.ID, UserID: creatorID, Role: domain.RoleMember, JoinedAt: now},
		{ChatID: chat.ID, UserID: otherUserID, Role: domain.RoleMember, JoinedAt: now},
	}
	if err := s.chats.Create(ctx, chat, members, nil); err != nil {
		return nil, false, err
	}
	return chat, true, nil
}

// GetChat returns the chat after verifying the caller's membership.
func (s *ChatService) GetChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat == nil {
		return nil, fmt.Errorf("%w: chat %s", domain.ErrNotFound, chatID)
	}
	member, err := s.members.Get(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return nil, domain.ErrNotMember
	}
	return chat, nil
}

// ListForUser returns all chats the user belongs to, newest activity first,
// each with its roster, decrypted last message, and unread count.
func (s *ChatService) ListForUser(ctx context.Context, userID string) ([]*ChatSummary, error) {
	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	res := make([]*ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := &ChatSummary{Chat: chat}

		roster, err := s.members.ListWithUsers(ctx, chat.ID)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		var self *domain.ChatMember
		for _, p := range roster {
			if p.Member.UserID == userID {
				self = p.Member
			}
			summary.Members = append(summary.Members, p.User)
		}

		if chat.LastMessageID != nil {
			last, err := s.messages.GetByID(ctx, *chat.LastMessageID)
			if err != nil {
				return nil, fmt.Errorf("get last message: %w", err)
			}
			if last != nil {
				if err := s.decrypt(last); err != nil {
					return nil, err
				}
				summary.LastMessage = last
			}
		}

		count, err := s.unreadCount(ctx, chat.ID, userID, self)
		if err != nil {
			return nil, err
		}
		summary.UnreadCount = count

		res = append(res, summary)
	}
	return res, nil
}

// Messages returns a page of the chat's history, newest first, with content
// decrypted. Membership is enforced.
func (s *ChatService) Messages(ctx context.Context, chatID, userID string, limit, offset int) ([]*domain.Message, error) {
	if _, err := s.GetChat(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.HistoryLimit {
		limit = s.HistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	msgs, err := s.messages.ListForChat(ctx, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for _, m := range msgs {
		if err := s.decrypt(m); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

func (s *ChatService) unreadCount(ctx context.Context, chatID, userID string, member *domain.ChatMember) (int, error) {
	if member == nil {
		return 0, nil
	}
	var after *time.Time
	if member.LastReadMessageID != nil {
		cursor, err := s.messages.GetByID(ctx, *member.LastReadMessageID)
		if err != nil {
			return 0, fmt.Errorf("get cursor message: %w", err)
		}
		if cursor != nil {
			after = &cursor.CreatedAt
		}
	}
	count, err := s.messages.CountAfter(ctx, chatID, userID, after)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *ChatService) decrypt(m *domain.Message) error {
	plain, err := s.encryptor.Decrypt(m.Content)
	if err != nil {
		return fmt.Errorf("decrypt message %s: %w", m.ID, err)
	}
	m.Content = plain
	return nil
}
