package domain

import "time"

// User presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Chat types.
const (
	ChatTypePrivate = "private"
	ChatTypeGroup   = "group"
)

// Membership roles within a group chat.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Message content kinds.
const (
	ContentText   = "text"
	ContentImage  = "image"
	ContentVideo  = "video"
	ContentFile   = "file"
	ContentSystem = "system"
)

// Message delivery lifecycle. Transitions only move forward:
// sent -> delivered -> read.
const (
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
)

// User represents an application user.
type User struct {
	ID              string    `db:"id" json:"id"`
	Username        string    `db:"username" json:"username"`
	Email           *string   `db:"email" json:"email,omitempty"`
	DisplayName     string    `db:"display_name" json:"displayName"`
	HashedPassword  string    `db:"hashed_password" json:"-"`
	ProfileImageURL *string   `db:"profile_image_url" json:"profileImageUrl,omitempty"`
	Status          string    `db:"status" json:"status"`
	IsActive        bool      `db:"is_active" json:"isActive"`
	LastSeenAt      time.Time `db:"last_seen_at" json:"lastSeenAt"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// Name returns the user's display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Chat represents a conversation, either private (exactly two members,
// immutable membership) or group (mutable membership, named, with a creator).
type Chat struct {
	ID            string    `db:"id" json:"id"`
	Type          string    `db:"type" json:"type"`
	Name          *string   `db:"name" json:"name,omitempty"`
	CreatorID     *string   `db:"creator_id" json:"creatorId,omitempty"`
	LastMessageID *string   `db:"last_message_id" json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// IsGroup reports whether the chat has mutable group membership.
func (c *Chat) IsGroup() bool {
	return c.Type == ChatTypeGroup
}

// ChatMember binds a user to a chat and carries the per-user read cursor.
// LastReadMessageID only ever advances; comparisons are made on the
// referenced message's creation time since ids are not temporally sortable.
type ChatMember struct {
	ChatID            string    `db:"chat_id" json:"chatId"`
	UserID            string    `db:"user_id" json:"userId"`
	Role              string    `db:"role" json:"role"`
	JoinedAt          time.Time `db:"joined_at" json:"joinedAt"`
	LastReadMessageID *string   `db:"last_read_message_id" json:"lastReadMessageId,omitempty"`
}

// MemberProfile pairs a membership row with its user record, as loaded by a
// single roster query.
type MemberProfile struct {
	Member *ChatMember `json:"member"`
	User   *User       `json:"user"`
}

// Message belongs to exactly one chat. SenderID is nil for system-generated
// messages, which are excluded from delivery-status tracking.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ChatID         string    `db:"chat_id" json:"chatId"`
	SenderID       *string   `db:"sender_id" json:"senderId"`
	Content        string    `db:"content" json:"content"` // encrypted at rest
	ContentType    string    `db:"content_type" json:"contentType"`
	FileURL        *string   `db:"file_url" json:"fileUrl,omitempty"`
	DeliveryStatus string    `db:"delivery_status" json:"deliveryStatus"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// IsSystem reports whether the message was generated by the server rather
// than sent by a user.
func (m *Message) IsSystem() bool {
	return m.SenderID == nil
}
