package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/security"
)

// MembershipService owns the group chat lifecycle: creation, adding and
// removing members, and voluntary leaves. Every mutation commits as a single
// transition so a non-empty group always retains at least one admin.
type MembershipService struct {
	chats     domain.ChatRepository
	members   domain.MemberRepository
	users     domain.UserRepository
	encryptor *security.Encryptor
}

func NewMembershipService(
	chats domain.ChatRepository,
	members domain.MemberRepository,
	users domain.UserRepository,
	encryptor *security.Encryptor,
) *MembershipService {
	return &MembershipService{
		chats:     chats,
		members:   members,
		users:     users,
		encryptor: encryptor,
	}
}

// MembershipChange reports the outcome of a group mutation so the transport
// layer can fan it out. SystemMessages carry plaintext content.
type MembershipChange struct {
	Chat           *domain.Chat
	ActorID        string
	TargetID       string
	PromotedUserID *string
	ChatDeleted    bool
	SystemMessages []*domain.Message
	// MemberIDs is the roster after the change, plus the target of a
	// removal so their clients learn about it too.
	MemberIDs []string
}

type CreateGroupInput struct {
	Name      string
	MemberIDs []string
}

// CreateGroup creates a group chat. The creator becomes its admin; the other
// listed users join as members. A group with only its creator is valid.
func (s *MembershipService) CreateGroup(ctx context.Context, creatorID string, in CreateGroupInput) (*domain.Chat, []string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: group name is required", domain.ErrValidation)
	}

	creator, err := s.requireActiveUser(ctx, creatorID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	chat := &domain.Chat{
		ID:        uuid.NewString(),
		Type:      domain.ChatTypeGroup,
		Name:      &name,
		CreatorID: &creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	members := []*domain.ChatMember{
		{ChatID: chat.ID, UserID: creatorID, Role: domain.RoleAdmin, JoinedAt: now},
	}
	seen := map[string]struct{}{creatorID: {}}
	for _, id := range in.MemberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := s.requireActiveUser(ctx, id); err != nil {
			return nil, nil, err
		}
		members = append(members, &domain.ChatMember{
			ChatID: chat.ID, UserID: id, Role: domain.RoleMember, JoinedAt: now,
		})
	}

	text := fmt.Sprintf("%s created the group %q", creator.Name(), name)
	sys, err := s.systemMessage(chat.ID, text, now)
	if err != nil {
		return nil, nil, err
	}
	if err := s.chats.Create(ctx, chat, members, sys); err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return chat, ids, nil
}

// AddMember adds a user to a group chat. Only admins may add members.
func (s *MembershipService) AddMember(ctx context.Context, actorID, chatID, targetID string) (*MembershipChange, error) {
	chat, _, err := s.requireGroupAdmin(ctx, chatID, actorID)
	if err != nil {
		return nil, err
	}

	target, err := s.requireActiveUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	existing, err := s.members.Get(ctx, chatID, targetID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: user is already a member", domain.ErrConflict)
	}

	actorUser, err := s.requireActiveUser(ctx, actorID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	text := fmt.Sprintf("%s added %s", actorUser.Name(), target.Name())
	sys, err := s.systemMessage(chatID, text, now)
	if err != nil {
		return nil, err
	}

	t := &domain.MembershipTransition{
		ChatID: chatID,
		Add: []*domain.ChatMember{
			{ChatID: chatID, UserID: targetID, Role: domain.RoleMember, JoinedAt: now},
		},
		SystemMessages: []*domain.Message{sys},
	}
	if err := s.members.ApplyTransition(ctx, t); err != nil {
		return nil, err
	}

	ids, err := s.members.ListUserIDs(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	sys.Content = text
	return &MembershipChange{
		Chat:           chat,
		ActorID:        actorID,
		TargetID:       targetID,
		SystemMessages: []*domain.Message{sys},
		MemberIDs:      ids,
	}, nil
}

// RemoveMember removes another user from a group chat. Only admins may
// remove members; removing yourself goes through Leave.
func (s *MembershipService) RemoveMember(ctx context.Context, actorID, chatID, targetID string) (*MembershipChange, error) {
	if actorID == targetID {
		return nil, fmt.Errorf("%w: use leave to exit the group", domain.ErrConflict)
	}
	chat, _, err := s.requireGroupAdmin(ctx, chatID, actorID)
	if err != nil {
		return nil, err
	}

	targetMember, err := s.members.Get(ctx, chatID, targetID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if targetMember == nil {
		return nil, fmt.Errorf("%w: user is not a member", domain.ErrNotFound)
	}
	// Only the group's creator may remove another admin.
	if targetMember.Role == domain.RoleAdmin && (chat.CreatorID == nil || *chat.CreatorID != actorID) {
		return nil, fmt.Errorf("%w: only the group creator can remove an admin", domain.ErrForbidden)
	}

	actorUser, err := s.requireActiveUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	targetUser, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	targetName := targetID
	if targetUser != nil {
		targetName = targetUser.Name()
	}

	now := time.Now()
	text := fmt.Sprintf("%s removed %s", actorUser.Name(), targetName)
	sys, err := s.systemMessage(chatID, text, now)
	if err != nil {
		return nil, err
	}

	t := &domain.MembershipTransition{
		ChatID:         chatID,
		RemoveUserIDs:  []string{targetID},
		SystemMessages: []*domain.Message{sys},
	}
	if err := s.members.ApplyTransition(ctx, t); err != nil {
		return nil, err
	}

	ids, err := s.members.ListUserIDs(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	sys.Content = text
	return &MembershipChange{
		Chat:           chat,
		ActorID:        actorID,
		TargetID:       targetID,
		SystemMessages: []*domain.Message{sys},
		MemberIDs:      append(ids, targetID),
	}, nil
}

// Leave removes the caller from a group chat. When the last admin leaves,
// the longest-standing remaining member is promoted in the same transition.
// When the last member leaves, the chat is deleted with its history.
func (s *MembershipService) Leave(ctx context.Context, userID, chatID string) (*MembershipChange, error) {
	chat, err := s.requireGroup(ctx, chatID)
	if err != nil {
		return nil, err
	}

	memberRows, err := s.members.List(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	var self *domain.ChatMember
	remaining := make([]*domain.ChatMember, 0, len(memberRows))
	adminsLeft := 0
	for _, m := range memberRows {
		if m.UserID == userID {
			self = m
			continue
		}
		remaining = append(remaining, m)
		if m.Role == domain.RoleAdmin {
			adminsLeft++
		}
	}
	if self == nil {
		return nil, domain.ErrNotMember
	}

	if len(remaining) == 0 {
		t := &domain.MembershipTransition{
			ChatID:        chatID,
			RemoveUserIDs: []string{userID},
			DeleteChat:    true,
		}
		if err := s.members.ApplyTransition(ctx, t); err != nil {
			return nil, err
		}
		return &MembershipChange{
			Chat:        chat,
			ActorID:     userID,
			TargetID:    userID,
			ChatDeleted: true,
			MemberIDs:   []string{userID},
		}, nil
	}

	leaver, err := s.requireActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	text := fmt.Sprintf("%s left the group", leaver.Name())
	sys, err := s.systemMessage(chatID, text, now)
	if err != nil {
		return nil, err
	}

	t := &domain.MembershipTransition{
		ChatID:         chatID,
		RemoveUserIDs:  []string{userID},
		SystemMessages: []*domain.Message{sys},
	}
	change := &MembershipChange{
		Chat:     chat,
		ActorID:  userID,
		TargetID: userID,
	}

	plaintexts := []string{text}
	if self.Role == domain.RoleAdmin && adminsLeft == 0 {
		// remaining is ordered by join time; the first entry is promoted.
		promoted := remaining[0]
		t.PromoteUserIDs = []string{promoted.UserID}
		change.PromotedUserID = &promoted.UserID

		promotedUser, err := s.users.GetByID(ctx, promoted.UserID)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		promotedName := promoted.UserID
		if promotedUser != nil {
			promotedName = promotedUser.Name()
		}
		promoText := fmt.Sprintf("%s is now an admin", promotedName)
		promoSys, err := s.systemMessage(chatID, promoText, now.Add(time.Millisecond))
		if err != nil {
			return nil, err
		}
		t.SystemMessages = append(t.SystemMessages, promoSys)
		plaintexts = append(plaintexts, promoText)
	}

	if err := s.members.ApplyTransition(ctx, t); err != nil {
		return nil, err
	}

	for i, m := range t.SystemMessages {
		m.Content = plaintexts[i]
	}
	change.SystemMessages = t.SystemMessages

	ids := make([]string, 0, len(remaining)+1)
	for _, m := range remaining {
		ids = append(ids, m.UserID)
	}
	change.MemberIDs = append(ids, userID)
	return change, nil
}

// Roster returns the chat's members joined with their user records, ordered
// by join time. Callers must be members themselves.
func (s *MembershipService) Roster(ctx context.Context, chatID, callerID string) ([]*domain.MemberProfile, error) {
	caller, err := s.members.Get(ctx, chatID, callerID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if caller == nil {
		return nil, domain.ErrNotMember
	}
	roster, err := s.members.ListWithUsers(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return roster, nil
}

func (s *MembershipService) requireActiveUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil || !u.IsActive {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	return u, nil
}

func (s *MembershipService) requireGroup(ctx context.Context, chatID string) (*domain.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat == nil {
		return nil, fmt.Errorf("%w: chat %s", domain.ErrNotFound, chatID)
	}
	if !chat.IsGroup() {
		return nil, fmt.Errorf("%w: private chat membership is fixed", domain.ErrValidation)
	}
	return chat, nil
}

func (s *MembershipService) requireGroupAdmin(ctx context.Context, chatID, userID string) (*domain.Chat, *domain.ChatMember, error) {
	chat, err := s.requireGroup(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	member, err := s.members.Get(ctx, chatID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return nil, nil, domain.ErrNotMember
	}
	if member.Role != domain.RoleAdmin {
		return nil, nil, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return chat, member, nil
}

func (s *MembershipService) systemMessage(chatID, text string, at time.Time) (*domain.Message, error) {
	encrypted, err := s.encryptor.Encrypt(text)
	if err != nil {
		return nil, fmt.Errorf("encrypt system message: %w", err)
	}
	return &domain.Message{
		ID:             uuid.NewString(),
		ChatID:         chatID,
		Content:        encrypted,
		ContentType:    domain.ContentSystem,
		DeliveryStatus: domain.DeliverySent,
		CreatedAt:      at,
	}, nil
}
