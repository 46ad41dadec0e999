package ws_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/presence"
	"github.com/Alireza-Koohzad/Nova-chat/internal/service"
	"github.com/Alireza-Koohzad/Nova-chat/internal/ws"
)

// recorded is one event captured by the fake gateway, tagged with where it
// was sent.
type recorded struct {
	kind   string // conn, user, users, all, room
	target string
	users  []string
	event  any
}

type fakeGateway struct {
	mu     sync.Mutex
	events []recorded
	rooms  map[string][]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{rooms: make(map[string][]string)}
}

func (g *fakeGateway) record(r recorded) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, r)
}

func (g *fakeGateway) ToConn(connID string, event any) {
	g.record(recorded{kind: "conn", target: connID, event: event})
}
func (g *fakeGateway) ToUser(userID string, event any) {
	g.record(recorded{kind: "user", target: userID, event: event})
}
func (g *fakeGateway) ToUsers(userIDs []string, event any) {
	g.record(recorded{kind: "users", users: userIDs, event: event})
}
func (g *fakeGateway) ToAll(event any) {
	g.record(recorded{kind: "all", event: event})
}
func (g *fakeGateway) ToRoomExcept(chatID, exceptUserID string, event any) {
	g.record(recorded{kind: "room", target: chatID, event: event})
}
func (g *fakeGateway) JoinRoom(connID, chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rooms[chatID] = append(g.rooms[chatID], connID)
}
func (g *fakeGateway) LeaveRoom(connID, chatID string) {}

func (g *fakeGateway) byKind(kind string) []recorded {
	g.mu.Lock()
	defer g.mu.Unlock()
	var res []recorded
	for _, r := range g.events {
		if r.kind == kind {
			res = append(res, r)
		}
	}
	return res
}

type stubDelivery struct {
	sendOut *service.SendOutcome
	sendErr error
	readRes *service.ReadResult
	readErr error
}

func (s *stubDelivery) RecordSend(ctx context.Context, senderID string, in service.SendInput) (*service.SendOutcome, error) {
	return s.sendOut, s.sendErr
}

func (s *stubDelivery) RecordRead(ctx context.Context, readerID, chatID, lastSeenID string) (*service.ReadResult, error) {
	return s.readRes, s.readErr
}

// stubMembers answers membership checks from a fixed chat -> user set.
type stubMembers struct {
	members map[string]map[string]bool
}

func (s *stubMembers) Get(ctx context.Context, chatID, userID string) (*domain.ChatMember, error) {
	if s.members[chatID][userID] {
		return &domain.ChatMember{ChatID: chatID, UserID: userID}, nil
	}
	return nil, nil
}
func (s *stubMembers) List(ctx context.Context, chatID string) ([]*domain.ChatMember, error) {
	return nil, nil
}
func (s *stubMembers) ListWithUsers(ctx context.Context, chatID string) ([]*domain.MemberProfile, error) {
	return nil, nil
}
func (s *stubMembers) ListUserIDs(ctx context.Context, chatID string) ([]string, error) {
	return nil, nil
}
func (s *stubMembers) AdvanceReadCursor(ctx context.Context, chatID, userID, messageID string, expected *string) (bool, error) {
	return false, nil
}
func (s *stubMembers) ApplyTransition(ctx context.Context, t *domain.MembershipTransition) error {
	return nil
}

// stubLastSeen is the stamp carried by every user the stub repo returns.
var stubLastSeen = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

type noopUserRepo struct{}

func (noopUserRepo) Create(ctx context.Context, u *domain.User) error { return nil }
func (noopUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return &domain.User{ID: id, Username: id, Status: domain.StatusOnline, IsActive: true, LastSeenAt: stubLastSeen}, nil
}
func (noopUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return nil, nil
}
func (noopUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return nil, nil
}
func (noopUserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	return nil, nil
}
func (noopUserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) { return nil, nil }
func (noopUserRepo) Search(ctx context.Context, query string, limit int) ([]*domain.User, error) {
	return nil, nil
}
func (noopUserRepo) SetPresence(ctx context.Context, id, status string, lastSeenAt time.Time) error {
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func setup(grace time.Duration, delivery *stubDelivery, members *stubMembers) (*ws.Orchestrator, *fakeGateway, *presence.Registry) {
	gw := newFakeGateway()
	reg := presence.NewRegistry(noopUserRepo{}, grace, quietLogger())
	if members == nil {
		members = &stubMembers{members: map[string]map[string]bool{}}
	}
	if delivery == nil {
		delivery = &stubDelivery{}
	}
	orch := ws.NewOrchestrator(reg, gw, delivery, members, noopUserRepo{}, quietLogger())
	return orch, gw, reg
}

func TestHandleConnectAnnouncesOnline(t *testing.T) {
	orch, gw, _ := setup(time.Second, nil, nil)

	orch.HandleConnect(context.Background(), "alice", "conn-1")

	all := gw.byKind("all")
	if assert.Len(t, all, 1) {
		status := all[0].event.(ws.UserStatusEvent)
		assert.Equal(t, ws.EventUserStatusChanged, status.Type)
		assert.Equal(t, "alice", status.UserID)
		assert.Equal(t, domain.StatusOnline, status.Status)
		assert.NotNil(t, status.LastSeenAt)
	}

	conns := gw.byKind("conn")
	if assert.Len(t, conns, 1) {
		online := conns[0].event.(ws.OnlineUsersEvent)
		assert.Equal(t, "conn-1", conns[0].target)
		assert.Empty(t, online.Users)
	}
}

func TestConnectReceivesOnlineRoster(t *testing.T) {
	orch, gw, _ := setup(time.Second, nil, nil)

	orch.HandleConnect(context.Background(), "alice", "conn-1")
	orch.HandleConnect(context.Background(), "bob", "conn-2")

	conns := gw.byKind("conn")
	if assert.Len(t, conns, 2) {
		online := conns[1].event.(ws.OnlineUsersEvent)
		assert.Equal(t, "conn-2", conns[1].target)
		if assert.Len(t, online.Users, 1) {
			assert.Equal(t, ws.OnlineUserPayload{
				UserID:     "alice",
				Status:     domain.StatusOnline,
				LastSeenAt: stubLastSeen,
			}, online.Users[0])
		}
	}
}

func TestSecondConnectionDoesNotReannounce(t *testing.T) {
	orch, gw, _ := setup(time.Second, nil, nil)

	orch.HandleConnect(context.Background(), "alice", "conn-1")
	orch.HandleConnect(context.Background(), "alice", "conn-2")

	assert.Len(t, gw.byKind("all"), 1)

	// The second connection still receives the roster, excluding alice.
	conns := gw.byKind("conn")
	assert.Len(t, conns, 2)
}

func TestOfflineBroadcastAfterGrace(t *testing.T) {
	orch, gw, _ := setup(20*time.Millisecond, nil, nil)

	orch.HandleConnect(context.Background(), "alice", "conn-1")
	orch.HandleDisconnect("alice", "conn-1")

	assert.Eventually(t, func() bool {
		for _, r := range gw.byKind("all") {
			if st, ok := r.event.(ws.UserStatusEvent); ok && st.Status == domain.StatusOffline {
				return st.UserID == "alice" && st.LastSeenAt != nil
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestReconnectWithinGraceSuppressesOfflineBroadcast(t *testing.T) {
	orch, gw, _ := setup(40*time.Millisecond, nil, nil)

	orch.HandleConnect(context.Background(), "alice", "conn-1")
	orch.HandleDisconnect("alice", "conn-1")
	orch.HandleConnect(context.Background(), "alice", "conn-2")

	time.Sleep(100 * time.Millisecond)
	for _, r := range gw.byKind("all") {
		if st, ok := r.event.(ws.UserStatusEvent); ok {
			assert.NotEqual(t, domain.StatusOffline, st.Status)
		}
	}
}

func TestSendMessageFansOutToMembers(t *testing.T) {
	delivery := &stubDelivery{
		sendOut: &service.SendOutcome{
			Message: &domain.Message{
				ID:             "m1",
				ChatID:         "c1",
				Content:        "hello",
				DeliveryStatus: domain.DeliveryDelivered,
			},
			MemberIDs: []string{"alice", "bob"},
		},
	}
	orch, gw, _ := setup(time.Second, delivery, nil)

	orch.SendMessage(context.Background(), "alice", "conn-1", "tmp-9", service.SendInput{
		ChatID:  "c1",
		Content: "hello",
	})

	events := gw.byKind("users")
	if assert.Len(t, events, 1) {
		msg := events[0].event.(ws.NewMessageEvent)
		assert.Equal(t, []string{"alice", "bob"}, events[0].users)
		assert.Equal(t, "m1", msg.Message.ID)
		assert.Equal(t, "tmp-9", msg.TempID)
		assert.Equal(t, domain.DeliveryDelivered, msg.Message.DeliveryStatus)
	}

	// The sender learns about the delivered upgrade on their own connections.
	users := gw.byKind("user")
	if assert.Len(t, users, 1) {
		status := users[0].event.(ws.MessageStatusEvent)
		assert.Equal(t, "alice", users[0].target)
		assert.Equal(t, []string{"m1"}, status.MessageIDs)
		assert.Equal(t, domain.DeliveryDelivered, status.DeliveryStatus)
	}
}

func TestSendMessageNoStatusUpdateWhenStillSent(t *testing.T) {
	delivery := &stubDelivery{
		sendOut: &service.SendOutcome{
			Message: &domain.Message{
				ID:             "m1",
				ChatID:         "c1",
				Content:        "hello",
				DeliveryStatus: domain.DeliverySent,
			},
			MemberIDs: []string{"alice", "bob"},
		},
	}
	orch, gw, _ := setup(time.Second, delivery, nil)

	orch.SendMessage(context.Background(), "alice", "conn-1", "", service.SendInput{
		ChatID:  "c1",
		Content: "hello",
	})

	assert.Len(t, gw.byKind("users"), 1)
	assert.Empty(t, gw.byKind("user"))
}

func TestSendMessageFailureReportsToSenderConn(t *testing.T) {
	delivery := &stubDelivery{sendErr: domain.ErrNotMember}
	orch, gw, _ := setup(time.Second, delivery, nil)

	orch.SendMessage(context.Background(), "mallory", "conn-1", "", service.SendInput{ChatID: "c1", Content: "hi"})

	conns := gw.byKind("conn")
	if assert.Len(t, conns, 1) {
		errEvent := conns[0].event.(ws.ErrorEvent)
		assert.Equal(t, ws.EventError, errEvent.Type)
	}
	assert.Empty(t, gw.byKind("users"))
}

func TestMarkReadNotifiesSendersIndividually(t *testing.T) {
	delivery := &stubDelivery{
		readRes: &service.ReadResult{
			ChatID:     "c1",
			ReaderID:   "alice",
			LastSeenID: "m3",
			Advanced:   true,
			MessageIDs: []string{"m1", "m2", "m3"},
			MessagesBySender: map[string][]string{
				"bob":   {"m1", "m3"},
				"carol": {"m2"},
			},
			MemberIDs: []string{"alice", "bob", "carol"},
		},
	}
	orch, gw, _ := setup(time.Second, delivery, nil)

	orch.MarkRead(context.Background(), "alice", "conn-1", "c1", "m3")

	conns := gw.byKind("conn")
	if assert.Len(t, conns, 1) {
		ack := conns[0].event.(ws.MarkReadAckEvent)
		assert.Equal(t, 3, ack.Count)
		assert.Equal(t, "m3", ack.LastSeenMessageID)
	}

	userEvents := gw.byKind("user")
	assert.Len(t, userEvents, 2)
	seen := map[string][]string{}
	for _, r := range userEvents {
		status := r.event.(ws.MessageStatusEvent)
		assert.Equal(t, domain.DeliveryRead, status.DeliveryStatus)
		assert.Equal(t, "alice", status.ReaderID)
		seen[r.target] = status.MessageIDs
	}
	assert.Equal(t, []string{"m1", "m3"}, seen["bob"])
	assert.Equal(t, []string{"m2"}, seen["carol"])

	// Every other member learns the new cursor, whether or not they joined
	// the chat's room.
	usersEvents := gw.byKind("users")
	if assert.Len(t, usersEvents, 1) {
		read := usersEvents[0].event.(ws.MessagesReadEvent)
		assert.Equal(t, []string{"bob", "carol"}, usersEvents[0].users)
		assert.Equal(t, "alice", read.ReaderID)
		assert.Equal(t, "m3", read.LastSeenMessageID)
	}
}

func TestMarkReadWithoutIDBroadcastsResolvedCursor(t *testing.T) {
	delivery := &stubDelivery{
		readRes: &service.ReadResult{
			ChatID:     "c1",
			ReaderID:   "alice",
			LastSeenID: "m3",
			Advanced:   true,
			MessageIDs: []string{"m3"},
			MessagesBySender: map[string][]string{
				"bob": {"m3"},
			},
			MemberIDs: []string{"alice", "bob"},
		},
	}
	orch, gw, _ := setup(time.Second, delivery, nil)

	orch.MarkRead(context.Background(), "alice", "conn-1", "c1", "")

	conns := gw.byKind("conn")
	if assert.Len(t, conns, 1) {
		ack := conns[0].event.(ws.MarkReadAckEvent)
		assert.Equal(t, "m3", ack.LastSeenMessageID)
	}
	usersEvents := gw.byKind("users")
	if assert.Len(t, usersEvents, 1) {
		read := usersEvents[0].event.(ws.MessagesReadEvent)
		assert.Equal(t, "m3", read.LastSeenMessageID)
	}
}

func TestMarkReadStaleCursorOnlyAcks(t *testing.T) {
	delivery := &stubDelivery{
		readRes: &service.ReadResult{
			ChatID:   "c1",
			ReaderID: "alice",
			Advanced: false,
		},
	}
	orch, gw, _ := setup(time.Second, delivery, nil)

	orch.MarkRead(context.Background(), "alice", "conn-1", "c1", "m1")

	assert.Len(t, gw.byKind("conn"), 1)
	assert.Empty(t, gw.byKind("user"))
	assert.Empty(t, gw.byKind("users"))
}

func TestTypingRequiresMembership(t *testing.T) {
	members := &stubMembers{members: map[string]map[string]bool{
		"c1": {"alice": true},
	}}
	orch, gw, _ := setup(time.Second, nil, members)

	orch.Typing(context.Background(), "mallory", "Mallory", "c1", true)
	assert.Empty(t, gw.byKind("room"))

	orch.Typing(context.Background(), "alice", "Alice", "c1", true)
	rooms := gw.byKind("room")
	if assert.Len(t, rooms, 1) {
		typing := rooms[0].event.(ws.TypingEvent)
		assert.Equal(t, "alice", typing.UserID)
		assert.True(t, typing.IsTyping)
	}
}

func TestJoinRoomRequiresMembership(t *testing.T) {
	members := &stubMembers{members: map[string]map[string]bool{
		"c1": {"alice": true},
	}}
	orch, gw, _ := setup(time.Second, nil, members)

	err := orch.JoinRoom(context.Background(), "mallory", "conn-1", "c1")
	assert.ErrorIs(t, err, domain.ErrNotMember)
	assert.Empty(t, gw.rooms["c1"])

	err = orch.JoinRoom(context.Background(), "alice", "conn-2", "c1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"conn-2"}, gw.rooms["c1"])
}

func TestMembershipEventWireNames(t *testing.T) {
	// Clients switch on these exact strings.
	assert.Equal(t, "memberAddedToGroup", ws.EventMemberAdded)
	assert.Equal(t, "memberRemovedFromGroup", ws.EventMemberRemoved)
	assert.Equal(t, "memberLeftGroup", ws.EventMemberLeft)
}

func TestBroadcastMembershipChange(t *testing.T) {
	t.Run("MemberLeftWithPromotion", func(t *testing.T) {
		orch, gw, _ := setup(time.Second, nil, nil)
		promoted := "bob"
		orch.BroadcastMembershipChange(ws.EventMemberLeft, &service.MembershipChange{
			Chat:           &domain.Chat{ID: "g1", Type: domain.ChatTypeGroup},
			ActorID:        "alice",
			TargetID:       "alice",
			PromotedUserID: &promoted,
			SystemMessages: []*domain.Message{
				{ID: "s1", ChatID: "g1", Content: "alice left the group"},
			},
			MemberIDs: []string{"bob", "carol", "alice"},
		})

		events := gw.byKind("users")
		assert.Len(t, events, 2)
		membership := events[0].event.(ws.MembershipEvent)
		assert.Equal(t, ws.EventMemberLeft, membership.Type)
		assert.Equal(t, "bob", *membership.PromotedUserID)
		sys := events[1].event.(ws.NewMessageEvent)
		assert.Equal(t, "s1", sys.Message.ID)
	})

	t.Run("GroupDeleted", func(t *testing.T) {
		orch, gw, _ := setup(time.Second, nil, nil)
		orch.BroadcastMembershipChange(ws.EventMemberLeft, &service.MembershipChange{
			Chat:        &domain.Chat{ID: "g1", Type: domain.ChatTypeGroup},
			ActorID:     "alice",
			TargetID:    "alice",
			ChatDeleted: true,
			MemberIDs:   []string{"alice"},
		})

		events := gw.byKind("users")
		if assert.Len(t, events, 1) {
			deleted := events[0].event.(ws.GroupDeletedEvent)
			assert.Equal(t, ws.EventGroupDeleted, deleted.Type)
			assert.Equal(t, "g1", deleted.ChatID)
		}
	})
}
