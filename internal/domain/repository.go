package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListActive(ctx context.Context, offset, limit int) ([]*User, error)
	ListOnline(ctx context.Context) ([]*User, error)
	Search(ctx context.Context, query string, limit int) ([]*User, error)
	// SetPresence stamps the aggregate online/offline status and last-seen
	// time. Only the presence registry mutates presence state.
	SetPresence(ctx context.Context, id, status string, lastSeenAt time.Time) error
}

// ChatRepository defines persistence operations for chats.
type ChatRepository interface {
	// Create inserts the chat together with its initial members and, when
	// sys is non-nil, an initial system message that becomes the chat's
	// last message. Everything commits in one transaction.
	Create(ctx context.Context, c *Chat, members []*ChatMember, sys *Message) error
	GetByID(ctx context.Context, id string) (*Chat, error)
	ListForUser(ctx context.Context, userID string) ([]*Chat, error)
	FindPrivateBetween(ctx context.Context, userA, userB string) (*Chat, error)
	SetLastMessage(ctx context.Context, chatID, messageID string) error
}

// MembershipTransition is one atomic group-membership change: membership
// rows, role promotions, system messages, and the chat's last-message
// pointer all commit together or not at all, so a partial write can never
// leave a non-empty group without an admin.
type MembershipTransition struct {
	ChatID         string
	Add            []*ChatMember
	RemoveUserIDs  []string
	PromoteUserIDs []string
	SystemMessages []*Message
	// DeleteChat destroys the chat with all memberships and messages
	// instead of recording system messages.
	DeleteChat bool
}

// MemberRepository defines operations on chat memberships.
type MemberRepository interface {
	Get(ctx context.Context, chatID, userID string) (*ChatMember, error)
	List(ctx context.Context, chatID string) ([]*ChatMember, error)
	// ListWithUsers returns the chat's memberships joined with their user
	// records in one query, in the same order as List.
	ListWithUsers(ctx context.Context, chatID string) ([]*MemberProfile, error)
	ListUserIDs(ctx context.Context, chatID string) ([]string, error)
	// AdvanceReadCursor moves the member's read cursor to messageID via
	// compare-and-set against the expected current cursor. It reports
	// false without error when a concurrent update won the race.
	AdvanceReadCursor(ctx context.Context, chatID, userID, messageID string, expected *string) (bool, error)
	// ApplyTransition commits one membership transition atomically.
	ApplyTransition(ctx context.Context, t *MembershipTransition) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	GetLatest(ctx context.Context, chatID string) (*Message, error)
	ListForChat(ctx context.Context, chatID string, limit, offset int) ([]*Message, error)
	// ListUnreadUpTo returns messages in the chat authored by someone other
	// than readerID, created at or before upTo, not yet read, and not
	// system-generated.
	ListUnreadUpTo(ctx context.Context, chatID, readerID string, upTo time.Time) ([]*Message, error)
	// MarkDelivered upgrades a message from sent to delivered. It reports
	// false when the message was already delivered or read (transitions
	// never move backward).
	MarkDelivered(ctx context.Context, id string) (bool, error)
	// MarkRead transitions the given messages to read, skipping any that
	// already are.
	MarkRead(ctx context.Context, ids []string) error
	// CountAfter counts messages in the chat created strictly after the
	// given time (or all messages when after is nil), excluding those sent
	// by excludeSenderID.
	CountAfter(ctx context.Context, chatID, excludeSenderID string, after *time.Time) (int, error)
}
