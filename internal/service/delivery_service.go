package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/security"
)

// Presence answers liveness probes during delivery decisions.
type Presence interface {
	IsOnline(userID string) bool
}

// DeliveryService owns the message delivery lifecycle: persisting outbound
// messages, upgrading them to delivered when a recipient is reachable, and
// advancing per-member read cursors.
type DeliveryService struct {
	chats     domain.ChatRepository
	members   domain.MemberRepository
	messages  domain.MessageRepository
	encryptor *security.Encryptor
	presence  Presence
}

func NewDeliveryService(
	chats domain.ChatRepository,
	members domain.MemberRepository,
	messages domain.MessageRepository,
	encryptor *security.Encryptor,
	presence Presence,
) *DeliveryService {
	return &DeliveryService{
		chats:     chats,
		members:   members,
		messages:  messages,
		encryptor: encryptor,
		presence:  presence,
	}
}

type SendInput struct {
	ChatID      string
	Content     string
	ContentType string
	FileURL     *string
}

// SendOutcome carries the persisted message (content decrypted) and the
// member ids the transport layer should fan it out to.
type SendOutcome struct {
	Message   *domain.Message
	MemberIDs []string
}

// RecordSend validates and persists an outbound message. The message is
// stored as sent, then immediately upgraded to delivered when at least one
// member other than the sender is online. The content of the returned
// message is plaintext.
func (s *DeliveryService) RecordSend(ctx context.Context, senderID string, in SendInput) (*SendOutcome, error) {
	if len([]rune(in.Content)) > 5000 {
		return nil, fmt.Errorf("%w: message content exceeds 5000 characters", domain.ErrValidation)
	}
	if in.Content == "" && (in.FileURL == nil || *in.FileURL == "") {
		return nil, fmt.Errorf("%w: message content cannot be empty", domain.ErrValidation)
	}
	if in.ContentType == "" {
		in.ContentType = domain.ContentText
	}
	switch in.ContentType {
	case domain.ContentText, domain.ContentImage, domain.ContentVideo, domain.ContentFile:
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", domain.ErrValidation, in.ContentType)
	}

	chat, err := s.chats.GetByID(ctx, in.ChatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat == nil {
		return nil, fmt.Errorf("%w: chat %s", domain.ErrNotFound, in.ChatID)
	}
	member, err := s.members.Get(ctx, in.ChatID, senderID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return nil, domain.ErrNotMember
	}

	encrypted, err := s.encryptor.Encrypt(in.Content)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ChatID:         in.ChatID,
		SenderID:       &senderID,
		Content:        encrypted,
		ContentType:    in.ContentType,
		FileURL:        in.FileURL,
		DeliveryStatus: domain.DeliverySent,
		CreatedAt:      time.Now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.chats.SetLastMessage(ctx, in.ChatID, msg.ID); err != nil {
		return nil, fmt.Errorf("set last message: %w", err)
	}

	memberIDs, err := s.members.ListUserIDs(ctx, in.ChatID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}

	if s.anyOtherOnline(memberIDs, senderID) {
		upgraded, err := s.messages.MarkDelivered(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("mark delivered: %w", err)
		}
		if upgraded {
			msg.DeliveryStatus = domain.DeliveryDelivered
		}
	}

	msg.Content = in.Content
	return &SendOutcome{Message: msg, MemberIDs: memberIDs}, nil
}

// ReadResult describes one read-cursor advance. MessagesBySender maps each
// sender to the ids of their messages that this call transitioned to read,
// so each can be notified individually. MemberIDs lists the chat's current
// members when the cursor advanced, for the roster-wide notification.
type ReadResult struct {
	ChatID           string
	ReaderID         string
	LastSeenID       string
	Advanced         bool
	MessageIDs       []string
	MessagesBySender map[string][]string
	MemberIDs        []string
}

// RecordRead advances the reader's cursor in the chat to lastSeenID and
// transitions every unread message at or before that point to read. An empty
// lastSeenID acknowledges up to the chat's newest message. Stale
// acknowledgements, where the cursor already points at a newer message, are
// absorbed without effect. Cursor order is by message creation time.
func (s *DeliveryService) RecordRead(ctx context.Context, readerID, chatID, lastSeenID string) (*ReadResult, error) {
	member, err := s.members.Get(ctx, chatID, readerID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return nil, domain.ErrNotMember
	}

	if lastSeenID == "" {
		chat, err := s.chats.GetByID(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("get chat: %w", err)
		}
		if chat == nil {
			return nil, fmt.Errorf("%w: chat %s", domain.ErrNotFound, chatID)
		}
		if chat.LastMessageID == nil {
			// Nothing sent yet; there is no cursor to advance.
			return &ReadResult{
				ChatID:           chatID,
				ReaderID:         readerID,
				MessagesBySender: make(map[string][]string),
			}, nil
		}
		lastSeenID = *chat.LastMessageID
	}

	upTo, err := s.messages.GetByID(ctx, lastSeenID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if upTo == nil {
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, lastSeenID)
	}
	if upTo.ChatID != chatID {
		return nil, fmt.Errorf("%w: message does not belong to this chat", domain.ErrValidation)
	}

	res := &ReadResult{
		ChatID:           chatID,
		ReaderID:         readerID,
		LastSeenID:       lastSeenID,
		MessagesBySender: make(map[string][]string),
	}

	// Compare-and-set with a bounded retry so two racing acknowledgements
	// converge on the newest cursor.
	for attempt := 0; attempt < 3; attempt++ {
		newer, err := s.cursorIsNewer(ctx, member, upTo)
		if err != nil {
			return nil, err
		}
		if !newer {
			return res, nil
		}
		ok, err := s.members.AdvanceReadCursor(ctx, chatID, readerID, upTo.ID, member.LastReadMessageID)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Advanced = true
			break
		}
		member, err = s.members.Get(ctx, chatID, readerID)
		if err != nil {
			return nil, fmt.Errorf("get member: %w", err)
		}
		if member == nil {
			return nil, domain.ErrNotMember
		}
	}
	if !res.Advanced {
		// Every attempt found the stored cursor older than upTo yet lost
		// the compare-and-set. Surface the contention instead of posing as
		// a stale acknowledgement.
		return nil, fmt.Errorf("%w: read cursor contention in chat %s", domain.ErrConflict, chatID)
	}

	memberIDs, err := s.members.ListUserIDs(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	res.MemberIDs = memberIDs

	unread, err := s.messages.ListUnreadUpTo(ctx, chatID, readerID, upTo.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	if len(unread) == 0 {
		return res, nil
	}

	ids := make([]string, 0, len(unread))
	for _, m := range unread {
		ids = append(ids, m.ID)
		if m.SenderID != nil {
			res.MessagesBySender[*m.SenderID] = append(res.MessagesBySender[*m.SenderID], m.ID)
		}
	}
	if err := s.messages.MarkRead(ctx, ids); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	res.MessageIDs = ids
	return res, nil
}

// UnreadCount counts messages in the chat the user has not yet acknowledged,
// based on their read cursor.
func (s *DeliveryService) UnreadCount(ctx context.Context, chatID, userID string) (int, error) {
	member, err := s.members.Get(ctx, chatID, userID)
	if err != nil {
		return 0, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return 0, domain.ErrNotMember
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
	return s.messages.CountAfter(ctx, chatID, userID, after)
}

// cursorIsNewer reports whether upTo sits after the member's current read
// cursor in creation-time order.
func (s *DeliveryService) cursorIsNewer(ctx context.Context, member *domain.ChatMember, upTo *domain.Message) (bool, error) {
	if member.LastReadMessageID == nil {
		return true, nil
	}
	if *member.LastReadMessageID == upTo.ID {
		return false, nil
	}
	current, err := s.messages.GetByID(ctx, *member.LastReadMessageID)
	if err != nil {
		return false, fmt.Errorf("get cursor message: %w", err)
	}
	if current == nil {
		// Cursor points at a purged message; allow the advance.
		return true, nil
	}
	return upTo.CreatedAt.After(current.CreatedAt), nil
}

func (s *DeliveryService) anyOtherOnline(memberIDs []string, senderID string) bool {
	for _, id := range memberIDs {
		if id != senderID && s.presence.IsOnline(id) {
			return true
		}
	}
	return false
}
