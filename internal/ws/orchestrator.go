package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/presence"
	"github.com/Alireza-Koohzad/Nova-chat/internal/service"
)

// Gateway is the outbound event fan-out surface the orchestrator pushes
// through. The Hub implements it over live WebSocket connections.
type Gateway interface {
	ToConn(connID string, event any)
	ToUser(userID string, event any)
	ToUsers(userIDs []string, event any)
	ToAll(event any)
	ToRoomExcept(chatID, exceptUserID string, event any)
	JoinRoom(connID, chatID string)
	LeaveRoom(connID, chatID string)
}

// DeliveryCoordinator is the slice of the delivery service the orchestrator
// drives.
type DeliveryCoordinator interface {
	RecordSend(ctx context.Context, senderID string, in service.SendInput) (*service.SendOutcome, error)
	RecordRead(ctx context.Context, readerID, chatID, lastSeenID string) (*service.ReadResult, error)
}

// Orchestrator glues the presence registry, delivery service and gateway
// together: every connection lifecycle event and inbound client event runs
// through here, and all resulting broadcasts leave through the gateway.
type Orchestrator struct {
	registry *presence.Registry
	gateway  Gateway
	delivery DeliveryCoordinator
	members  domain.MemberRepository
	users    domain.UserRepository
	logger   *slog.Logger
}

func NewOrchestrator(
	registry *presence.Registry,
	gateway Gateway,
	delivery DeliveryCoordinator,
	members domain.MemberRepository,
	users domain.UserRepository,
	logger *slog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		gateway:  gateway,
		delivery: delivery,
		members:  members,
		users:    users,
		logger:   logger,
	}
	registry.OnOffline = func(userID string, lastSeenAt time.Time) {
		o.gateway.ToAll(UserStatusEvent{
			Type:       EventUserStatusChanged,
			UserID:     userID,
			Status:     domain.StatusOffline,
			LastSeenAt: &lastSeenAt,
		})
	}
	return o
}

// HandleConnect runs when a connection is authenticated and registered. The
// first connection of a user announces them online to everyone; the new
// connection always receives the current online roster, excluding itself.
func (o *Orchestrator) HandleConnect(ctx context.Context, userID, connID string) {
	becameOnline, at, err := o.registry.Connect(ctx, userID, connID)
	if err != nil {
		o.logger.Error("persist online status", "user_id", userID, "error", err)
	}
	if becameOnline {
		o.gateway.ToAll(UserStatusEvent{
			Type:       EventUserStatusChanged,
			UserID:     userID,
			Status:     domain.StatusOnline,
			LastSeenAt: &at,
		})
	}

	online := o.registry.OnlineUserIDs()
	others := make([]OnlineUserPayload, 0, len(online))
	for _, id := range online {
		if id == userID {
			continue
		}
		u, err := o.users.GetByID(ctx, id)
		if err != nil {
			o.logger.Error("load online user", "user_id", id, "error", err)
			continue
		}
		if u == nil {
			continue
		}
		others = append(others, OnlineUserPayload{
			UserID:     u.ID,
			Status:     domain.StatusOnline,
			LastSeenAt: u.LastSeenAt,
		})
	}
	o.gateway.ToConn(connID, OnlineUsersEvent{Type: EventCurrentOnlineUsers, Users: others})
}

// HandleDisconnect runs when a connection's read loop ends. Offline fan-out
// happens later through the registry's grace timer, if no connection returns.
func (o *Orchestrator) HandleDisconnect(userID, connID string) {
	o.registry.Disconnect(userID, connID)
}

// SendMessage persists an outbound message and fans it out to every chat
// member. tempID is echoed back so the sender can reconcile optimistic UI.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, connID, tempID string, in service.SendInput) {
	out, err := o.delivery.RecordSend(ctx, userID, in)
	if err != nil {
		o.logger.Warn("send message", "user_id", userID, "chat_id", in.ChatID, "error", err)
		o.gateway.ToConn(connID, errorEvent("failed to send message"))
		return
	}
	event := NewMessageEvent{
		Type:    EventNewMessage,
		Message: toMessagePayload(out.Message),
		TempID:  tempID,
	}
	o.gateway.ToUsers(out.MemberIDs, event)

	// The sender's own connections get a status update when the message was
	// upgraded to delivered during the send.
	if out.Message.DeliveryStatus == domain.DeliveryDelivered {
		o.gateway.ToUser(userID, MessageStatusEvent{
			Type:           EventMessageStatus,
			ChatID:         out.Message.ChatID,
			MessageIDs:     []string{out.Message.ID},
			DeliveryStatus: domain.DeliveryDelivered,
		})
	}
}

// MarkRead advances the reader's cursor and notifies each affected sender
// that their messages were read. The reader's connection gets an
// acknowledgement; every other chat member learns the new cursor.
func (o *Orchestrator) MarkRead(ctx context.Context, userID, connID, chatID, lastSeenID string) {
	res, err := o.delivery.RecordRead(ctx, userID, chatID, lastSeenID)
	if err != nil {
		o.logger.Warn("mark read", "user_id", userID, "chat_id", chatID, "error", err)
		o.gateway.ToConn(connID, errorEvent("failed to mark messages as read"))
		return
	}

	o.gateway.ToConn(connID, MarkReadAckEvent{
		Type:              EventMarkReadAck,
		ChatID:            chatID,
		LastSeenMessageID: res.LastSeenID,
		Count:             len(res.MessageIDs),
	})
	if !res.Advanced {
		return
	}

	for senderID, ids := range res.MessagesBySender {
		o.gateway.ToUser(senderID, MessageStatusEvent{
			Type:           EventMessageStatus,
			ChatID:         chatID,
			MessageIDs:     ids,
			DeliveryStatus: domain.DeliveryRead,
			ReaderID:       userID,
		})
	}
	others := make([]string, 0, len(res.MemberIDs))
	for _, id := range res.MemberIDs {
		if id != userID {
			others = append(others, id)
		}
	}
	o.gateway.ToUsers(others, MessagesReadEvent{
		Type:              EventMessagesRead,
		ChatID:            chatID,
		ReaderID:          userID,
		LastSeenMessageID: res.LastSeenID,
	})
}

// Typing forwards a typing indicator to the other connections in the chat's
// room. Non-members are rejected silently.
func (o *Orchestrator) Typing(ctx context.Context, userID, username, chatID string, isTyping bool) {
	member, err := o.members.Get(ctx, chatID, userID)
	if err != nil || member == nil {
		return
	}
	o.gateway.ToRoomExcept(chatID, userID, TypingEvent{
		Type:     EventTyping,
		ChatID:   chatID,
		UserID:   userID,
		Username: username,
		IsTyping: isTyping,
	})
}

// JoinRoom subscribes the connection to a chat's room after checking
// membership.
func (o *Orchestrator) JoinRoom(ctx context.Context, userID, connID, chatID string) error {
	member, err := o.members.Get(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return domain.ErrNotMember
	}
	o.gateway.JoinRoom(connID, chatID)
	return nil
}

// LeaveRoom unsubscribes the connection from a chat's room.
func (o *Orchestrator) LeaveRoom(connID, chatID string) {
	o.gateway.LeaveRoom(connID, chatID)
}

// BroadcastMembershipChange pushes a group membership change to everyone
// affected: the membership event itself plus the system messages recorded
// with it, or a deletion notice when the group ceased to exist.
func (o *Orchestrator) BroadcastMembershipChange(eventType string, change *service.MembershipChange) {
	if change.ChatDeleted {
		o.gateway.ToUsers(change.MemberIDs, GroupDeletedEvent{
			Type:   EventGroupDeleted,
			ChatID: change.Chat.ID,
		})
		return
	}
	o.gateway.ToUsers(change.MemberIDs, MembershipEvent{
		Type:           eventType,
		ChatID:         change.Chat.ID,
		UserID:         change.TargetID,
		ActorID:        change.ActorID,
		PromotedUserID: change.PromotedUserID,
		MemberIDs:      change.MemberIDs,
	})
	for _, sys := range change.SystemMessages {
		o.gateway.ToUsers(change.MemberIDs, NewMessageEvent{
			Type:    EventNewMessage,
			Message: toMessagePayload(sys),
		})
	}
}
