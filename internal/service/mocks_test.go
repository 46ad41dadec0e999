package service_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	return nil, nil // not used in these tests
}

func (m *MockUserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockUserRepo) Search(ctx context.Context, query string, limit int) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockUserRepo) SetPresence(ctx context.Context, id, status string, lastSeenAt time.Time) error {
	args := m.Called(ctx, id, status, lastSeenAt)
	return args.Error(0)
}

type MockChatRepo struct {
	mock.Mock
}

func (m *MockChatRepo) Create(ctx context.Context, c *domain.Chat, members []*domain.ChatMember, sys *domain.Message) error {
	args := m.Called(ctx, c, members, sys)
	return args.Error(0)
}

func (m *MockChatRepo) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chat), args.Error(1)
}

func (m *MockChatRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chat), args.Error(1)
}

func (m *MockChatRepo) FindPrivateBetween(ctx context.Context, userA, userB string) (*domain.Chat, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chat), args.Error(1)
}

func (m *MockChatRepo) SetLastMessage(ctx context.Context, chatID, messageID string) error {
	args := m.Called(ctx, chatID, messageID)
	return args.Error(0)
}

type MockMemberRepo struct {
	mock.Mock
}

func (m *MockMemberRepo) Get(ctx context.Context, chatID, userID string) (*domain.ChatMember, error) {
	args := m.Called(ctx, chatID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatMember), args.Error(1)
}

func (m *MockMemberRepo) List(ctx context.Context, chatID string) ([]*domain.ChatMember, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChatMember), args.Error(1)
}

func (m *MockMemberRepo) ListWithUsers(ctx context.Context, chatID string) ([]*domain.MemberProfile, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MemberProfile), args.Error(1)
}

func (m *MockMemberRepo) ListUserIDs(ctx context.Context, chatID string) ([]string, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMemberRepo) AdvanceReadCursor(ctx context.Context, chatID, userID, messageID string, expected *string) (bool, error) {
	args := m.Called(ctx, chatID, userID, messageID, expected)
	return args.Bool(0), args.Error(1)
}

func (m *MockMemberRepo) ApplyTransition(ctx context.Context, t *domain.MembershipTransition) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) GetLatest(ctx context.Context, chatID string) (*domain.Message, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListForChat(ctx context.Context, chatID string, limit, offset int) ([]*domain.Message, error) {
	args := m.Called(ctx, chatID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListUnreadUpTo(ctx context.Context, chatID, readerID string, upTo time.Time) ([]*domain.Message, error) {
	args := m.Called(ctx, chatID, readerID, upTo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) MarkDelivered(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepo) MarkRead(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockMessageRepo) CountAfter(ctx context.Context, chatID, excludeSenderID string, after *time.Time) (int, error) {
	args := m.Called(ctx, chatID, excludeSenderID, after)
	return args.Int(0), args.Error(1)
}

// stubPresence reports a fixed set of online users.
type stubPresence struct {
	online map[string]bool
}

func (s *stubPresence) IsOnline(userID string) bool {
	return s.online[userID]
}
