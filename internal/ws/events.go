package ws

import (
	"time"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
)

// Wire events pushed to clients. Every event carries a "type" discriminator.

const (
	EventUserStatusChanged  = "userStatusChanged"
	EventCurrentOnlineUsers = "currentOnlineUsers"
	EventNewMessage         = "newMessage"
	EventMessageStatus      = "messageStatusUpdate"
	EventMessagesRead       = "messagesReadByRecipient"
	EventMarkReadAck        = "messagesSuccessfullyMarkedAsRead"
	EventTyping             = "typing"
	EventMemberAdded        = "memberAddedToGroup"
	EventMemberRemoved      = "memberRemovedFromGroup"
	EventMemberLeft         = "memberLeftGroup"
	EventGroupDeleted       = "groupDeleted"
	EventError              = "error"
)

type UserStatusEvent struct {
	Type       string     `json:"type"`
	UserID     string     `json:"userId"`
	Status     string     `json:"status"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// OnlineUserPayload is one entry of the online roster sent to a freshly
// connected client.
type OnlineUserPayload struct {
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

type OnlineUsersEvent struct {
	Type  string              `json:"type"`
	Users []OnlineUserPayload `json:"users"`
}

// MessagePayload is the wire shape of a message, content already decrypted.
type MessagePayload struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chatId"`
	SenderID       *string   `json:"senderId"`
	Content        string    `json:"content"`
	ContentType    string    `json:"contentType"`
	FileURL        *string   `json:"fileUrl,omitempty"`
	DeliveryStatus string    `json:"deliveryStatus"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toMessagePayload(m *domain.Message) MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ChatID:         m.ChatID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		ContentType:    m.ContentType,
		FileURL:        m.FileURL,
		DeliveryStatus: m.DeliveryStatus,
		CreatedAt:      m.CreatedAt,
	}
}

type NewMessageEvent struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
	// TempID echoes the client-side placeholder id so the sender can
	// reconcile its optimistic UI.
	TempID string `json:"tempId,omitempty"`
}

type MessageStatusEvent struct {
	Type           string   `json:"type"`
	ChatID         string   `json:"chatId"`
	MessageIDs     []string `json:"messageIds"`
	DeliveryStatus string   `json:"deliveryStatus"`
	ReaderID       string   `json:"readerId,omitempty"`
}

type MessagesReadEvent struct {
	Type              string `json:"type"`
	ChatID            string `json:"chatId"`
	ReaderID          string `json:"readerId"`
	LastSeenMessageID string `json:"lastSeenMessageId"`
}

type MarkReadAckEvent struct {
	Type              string `json:"type"`
	ChatID            string `json:"chatId"`
	LastSeenMessageID string `json:"lastSeenMessageId"`
	Count             int    `json:"count"`
}

type TypingEvent struct {
	Type     string `json:"type"`
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type MembershipEvent struct {
	Type           string   `json:"type"`
	ChatID         string   `json:"chatId"`
	UserID         string   `json:"userId"`
	ActorID        string   `json:"actorId"`
	PromotedUserID *string  `json:"promotedUserId,omitempty"`
	MemberIDs      []string `json:"memberIds,omitempty"`
}

type GroupDeletedEvent struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorEvent(msg string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: msg}
}
