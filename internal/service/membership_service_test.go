package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/security"
	"github.com/Alireza-Koohzad/Nova-chat/internal/service"
)

func newMembershipService(chats *MockChatRepo, members *MockMemberRepo, users *MockUserRepo) *service.MembershipService {
	enc, _ := security.NewEncryptor([]byte("test-key"))
	return service.NewMembershipService(chats, members, users, enc)
}

func groupChat(id string) *domain.Chat {
	name := "team"
	return &domain.Chat{ID: id, Type: domain.ChatTypeGroup, Name: &name}
}

func activeUser(id string) *domain.User {
	return &domain.User{ID: id, Username: id, IsActive: true}
}

func TestCreateGroup(t *testing.T) {
	t.Run("CreatorBecomesAdmin", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		users.On("GetByID", mock.Anything, "alice").Return(activeUser("alice"), nil)
		users.On("GetByID", mock.Anything, "bob").Return(activeUser("bob"), nil)
		chats.On("Create", mock.Anything, mock.AnythingOfType("*domain.Chat"),
			mock.MatchedBy(func(ms []*domain.ChatMember) bool {
				return len(ms) == 2 &&
					ms[0].UserID == "alice" && ms[0].Role == domain.RoleAdmin &&
					ms[1].UserID == "bob" && ms[1].Role == domain.RoleMember
			}),
			mock.MatchedBy(func(sys *domain.Message) bool {
				return sys != nil && sys.IsSystem() && sys.ContentType == domain.ContentSystem
			}),
		).Return(nil)

		chat, memberIDs, err := svc.CreateGroup(context.Background(), "alice", service.CreateGroupInput{
			Name:      "team",
			MemberIDs: []string{"bob", "alice"},
		})
		assert.NoError(t, err)
		assert.Equal(t, domain.ChatTypeGroup, chat.Type)
		assert.Equal(t, []string{"alice", "bob"}, memberIDs)
		chats.AssertExpectations(t)
	})

	t.Run("EmptyNameRejected", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		_, _, err := svc.CreateGroup(context.Background(), "alice", service.CreateGroupInput{Name: "  "})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("CreatorOnlyGroupAllowed", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		users.On("GetByID", mock.Anything, "alice").Return(activeUser("alice"), nil)
		chats.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		_, memberIDs, err := svc.CreateGroup(context.Background(), "alice", service.CreateGroupInput{Name: "solo"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"alice"}, memberIDs)
	})
}

func TestAddMember(t *testing.T) {
	t.Run("AdminAddsMember", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chats.On("GetByID", mock.Anything, "g1").Return(groupChat("g1"), nil)
		members.On("Get", mock.Anything, "g1", "alice").
			Return(&domain.ChatMember{ChatID: "g1", UserID: "alice", Role: domain.RoleAdmin}, nil)
		members.On("Get", mock.Anything, "g1", "carol").Return(nil, nil)
		users.On("GetByID", mock.Anything, "carol").Return(activeUser("carol"), nil)
		users.On("GetByID", mock.Anything, "alice").Return(activeUser("alice"), nil)
		members.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr *domain.MembershipTransition) bool {
			return tr.ChatID == "g1" &&
				len(tr.Add) == 1 && tr.Add[0].UserID == "carol" && tr.Add[0].Role == domain.RoleMember &&
				len(tr.SystemMessages) == 1 && !tr.DeleteChat
		})).Return(nil)
		members.On("ListUserIDs", mock.Anything, "g1").Return([]string{"alice", "bob", "carol"}, nil)

		change, err := svc.AddMember(context.Background(), "alice", "g1", "carol")
		assert.NoError(t, err)
		assert.Equal(t, "carol", change.TargetID)
		assert.Equal(t, []string{"alice", "bob", "carol"}, change.MemberIDs)
		assert.Len(t, change.SystemMessages, 1)
		assert.Contains(t, change.SystemMessages[0].Content, "added")
		members.AssertExpectations(t)
	})

	t.Run("NonAdminForbidden", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chats.On("GetByID", mock.Anything, "g1").Return(groupChat("g1"), nil)
		members.On("Get", mock.Anything, "g1", "bob").
			Return(&domain.ChatMember{ChatID: "g1", UserID: "bob", Role: domain.RoleMember}, nil)

		_, err := svc.AddMember(context.Background(), "bob", "g1", "carol")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("AlreadyMemberConflict", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chats.On("GetByID", mock.Anything, "g1").Return(groupChat("g1"), nil)
		members.On("Get", mock.Anything, "g1", "alice").
			Return(&domain.ChatMember{ChatID: "g1", UserID: "alice", Role: domain.RoleAdmin}, nil)
		users.On("GetByID", mock.Anything, "bob").Return(activeUser("bob"), nil)
		members.On("Get", mock.Anything, "g1", "bob").
			Return(&domain.ChatMember{ChatID: "g1", UserID: "bob", Role: domain.RoleMember}, nil)

		_, err := svc.AddMember(context.Background(), "alice", "g1", "bob")
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("PrivateChatRejected", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chats.On("GetByID", mock.Anything, "p1").
			Return(&domain.Chat{ID: "p1", Type: domain.ChatTypePrivate}, nil)

		_, err := svc.AddMember(context.Background(), "alice", "p1", "carol")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestRemoveMember(t *testing.T) {
	t.Run("SelfRemovalRejected", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		_, err := svc.RemoveMember(context.Background(), "alice", "g1", "alice")
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("AdminRemovesMember", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chats.On("GetByID", mock.Anything, "g1").Return(groupChat("g1"), nil)
		members.On("Get", mock.Anything, "g1", "alice").
			Return(&domain.ChatMember{ChatID: "g1", UserID: "alice", Role: domain.RoleAdmin}, nil)
		members.On("Get", mock.Anything, "g1", "bob").
			Return(&domain.ChatMember{ChatID: "g1", UserID: "bob", Role: domain.RoleMember}, nil)
		users.On("GetByID", mock.Anything, "alice").Return(activeUser("alice"), nil)
		users.On("GetByID", mock.Anything, "bob").Return(activeUser("bob"), nil)
		members.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr *domain.MembershipTransition) bool {
			return len(tr.RemoveUserIDs) == 1 && tr.RemoveUserIDs[0] == "bob" && !tr.DeleteChat
		})).Return(nil)
		members.On("ListUserIDs", mock.Anything, "g1").Return([]string{"alice"}, nil)

		change, err := svc.RemoveMember(context.Background(), "alice", "g1", "bob")
		assert.NoError(t, err)
		// The removed user is included so their clients hear about it.
		assert.Equal(t, []string{"alice", "bob"}, change.MemberIDs)
	})

	t.Run("NonCreatorAdminCannotRemoveAdmin", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chat := groupChat("g1")
		creatorID := "alice"
		chat.CreatorID = &creatorID
		chats.On("GetByID", mock.Anything, "g1").Return(chat, nil)
		members.On("Get", mock.Anything, "g1", "bob").
			Return(&domain.ChatMember{ChatID: "g1", UserID: "bob", Role: domain.RoleAdmin}, nil)
		members.On("Get", mock.Anything, "g1", "carol").
			Return(&domain.ChatMember{ChatID: "g1", UserID: "carol", Role: domain.RoleAdmin}, nil)

		_, err := svc.RemoveMember(context.Background(), "bob", "g1", "carol")
		assert.ErrorIs(t, err, domain.ErrForbidden)
		members.AssertNotCalled(t, "ApplyTransition", mock.Anything, mock.Anything)
	})

	t.Run("CreatorRemovesAdmin", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chat := groupChat("g1")
		creatorID := "alice"
		chat.CreatorID = &creatorID
		chats.On("GetByID", mock.Anything, "g1").Return(chat, nil)
		members.On("Get", mock.Anything, "g1", "alice").
			Return(&domain.ChatMember{ChatID: "g1", UserID: "alice", Role: domain.RoleAdmin}, nil)
		members.On("Get", mock.Anything, "g1", "bob").
			Return(&domain.ChatMember{ChatID: "g1", UserID: "bob", Role: domain.RoleAdmin}, nil)
		users.On("GetByID", mock.Anything, "alice").Return(activeUser("alice"), nil)
		users.On("GetByID", mock.Anything, "bob").Return(activeUser("bob"), nil)
		members.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr *domain.MembershipTransition) bool {
			return tr.RemoveUserIDs[0] == "bob"
		})).Return(nil)
		members.On("ListUserIDs", mock.Anything, "g1").Return([]string{"alice"}, nil)

		_, err := svc.RemoveMember(context.Background(), "alice", "g1", "bob")
		assert.NoError(t, err)
		members.AssertExpectations(t)
	})
}

func TestLeave(t *testing.T) {
	joined := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("LastAdminLeavingPromotesOldestMember", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chats.On("GetByID", mock.Anything, "g1").Return(groupChat("g1"), nil)
		members.On("List", mock.Anything, "g1").Return([]*domain.ChatMember{
			{ChatID: "g1", UserID: "alice", Role: domain.RoleAdmin, JoinedAt: joined},
			{ChatID: "g1", UserID: "bob", Role: domain.RoleMember, JoinedAt: joined.Add(time.Hour)},
			{ChatID: "g1", UserID: "carol", Role: domain.RoleMember, JoinedAt: joined.Add(2 * time.Hour)},
		}, nil)
		users.On("GetByID", mock.Anything, "alice").Return(activeUser("alice"), nil)
		users.On("GetByID", mock.Anything, "bob").Return(activeUser("bob"), nil)
		members.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr *domain.MembershipTransition) bool {
			return tr.RemoveUserIDs[0] == "alice" &&
				len(tr.PromoteUserIDs) == 1 && tr.PromoteUserIDs[0] == "bob" &&
				len(tr.SystemMessages) == 2 && !tr.DeleteChat
		})).Return(nil)

		change, err := svc.Leave(context.Background(), "alice", "g1")
		assert.NoError(t, err)
		assert.NotNil(t, change.PromotedUserID)
		assert.Equal(t, "bob", *change.PromotedUserID)
		assert.False(t, change.ChatDeleted)
		assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, change.MemberIDs)
		members.AssertExpectations(t)
	})

	t.Run("AdminLeavingWithAnotherAdminNoPromotion", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chats.On("GetByID", mock.Anything, "g1").Return(groupChat("g1"), nil)
		members.On("List", mock.Anything, "g1").Return([]*domain.ChatMember{
			{ChatID: "g1", UserID: "alice", Role: domain.RoleAdmin, JoinedAt: joined},
			{ChatID: "g1", UserID: "bob", Role: domain.RoleAdmin, JoinedAt: joined.Add(time.Hour)},
		}, nil)
		users.On("GetByID", mock.Anything, "alice").Return(activeUser("alice"), nil)
		members.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr *domain.MembershipTransition) bool {
			return len(tr.PromoteUserIDs) == 0 && len(tr.SystemMessages) == 1
		})).Return(nil)

		change, err := svc.Leave(context.Background(), "alice", "g1")
		assert.NoError(t, err)
		assert.Nil(t, change.PromotedUserID)
	})

	t.Run("LastMemberLeavingDeletesChat", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chats.On("GetByID", mock.Anything, "g1").Return(groupChat("g1"), nil)
		members.On("List", mock.Anything, "g1").Return([]*domain.ChatMember{
			{ChatID: "g1", UserID: "alice", Role: domain.RoleAdmin, JoinedAt: joined},
		}, nil)
		members.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr *domain.MembershipTransition) bool {
			return tr.DeleteChat && tr.RemoveUserIDs[0] == "alice"
		})).Return(nil)

		change, err := svc.Leave(context.Background(), "alice", "g1")
		assert.NoError(t, err)
		assert.True(t, change.ChatDeleted)
		members.AssertExpectations(t)
	})

	t.Run("NonMemberRejected", func(t *testing.T) {
		chats := new(MockChatRepo)
		members := new(MockMemberRepo)
		users := new(MockUserRepo)
		svc := newMembershipService(chats, members, users)

		chats.On("GetByID", mock.Anything, "g1").Return(groupChat("g1"), nil)
		members.On("List", mock.Anything, "g1").Return([]*domain.ChatMember{
			{ChatID: "g1", UserID: "bob", Role: domain.RoleAdmin, JoinedAt: joined},
		}, nil)

		_, err := svc.Leave(context.Background(), "mallory", "g1")
		assert.ErrorIs(t, err, domain.ErrNotMember)
	})
}
