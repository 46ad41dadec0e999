package presence_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/presence"
)

type fakeUserRepo struct {
	mu       sync.Mutex
	statuses []string
}

func (f *fakeUserRepo) SetPresence(ctx context.Context, id, status string, lastSeenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeUserRepo) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statuses...)
}

func (f *fakeUserRepo) Create(ctx context.Context, u *domain.User) error { return nil }
func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return nil, nil
}
func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return nil, nil
}
func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return nil, nil
}
func (f *fakeUserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	return nil, nil
}
func (f *fakeUserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) { return nil, nil }
func (f *fakeUserRepo) Search(ctx context.Context, query string, limit int) ([]*domain.User, error) {
	return nil, nil
}

func newTestRegistry(grace time.Duration) (*presence.Registry, *fakeUserRepo) {
	repo := &fakeUserRepo{}
	logger := slog.New(slog.NewTextHandler(testWriter{}, nil))
	return presence.NewRegistry(repo, grace, logger), repo
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestConnectFirstConnection(t *testing.T) {
	reg, repo := newTestRegistry(50 * time.Millisecond)

	becameOnline, at, err := reg.Connect(context.Background(), "u1", "c1")
	assert.NoError(t, err)
	assert.True(t, becameOnline)
	assert.False(t, at.IsZero())
	assert.True(t, reg.IsOnline("u1"))
	assert.Equal(t, 1, reg.ConnectionCount("u1"))
	assert.Equal(t, []string{domain.StatusOnline}, repo.recorded())
}

func TestConnectSecondConnectionNoTransition(t *testing.T) {
	reg, repo := newTestRegistry(50 * time.Millisecond)

	_, _, _ = reg.Connect(context.Background(), "u1", "c1")
	becameOnline, _, err := reg.Connect(context.Background(), "u1", "c2")
	assert.NoError(t, err)
	assert.False(t, becameOnline)
	assert.Equal(t, 2, reg.ConnectionCount("u1"))
	assert.Equal(t, []string{domain.StatusOnline}, repo.recorded())
}

func TestDisconnectLastConnectionGoesOfflineAfterGrace(t *testing.T) {
	reg, repo := newTestRegistry(30 * time.Millisecond)

	var mu sync.Mutex
	var offline []string
	reg.OnOffline = func(userID string, lastSeenAt time.Time) {
		mu.Lock()
		offline = append(offline, userID)
		mu.Unlock()
	}

	_, _, _ = reg.Connect(context.Background(), "u1", "c1")
	reg.Disconnect("u1", "c1")

	// Still online inside the grace window.
	assert.True(t, reg.IsOnline("u1"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(offline) == 1
	}, time.Second, 5*time.Millisecond)

	assert.False(t, reg.IsOnline("u1"))
	assert.Equal(t, []string{domain.StatusOnline, domain.StatusOffline}, repo.recorded())
	assert.Equal(t, []string{"u1"}, offline)
}

func TestReconnectWithinGraceCancelsOffline(t *testing.T) {
	reg, repo := newTestRegistry(40 * time.Millisecond)

	fired := make(chan string, 1)
	reg.OnOffline = func(userID string, lastSeenAt time.Time) { fired <- userID }

	_, _, _ = reg.Connect(context.Background(), "u1", "c1")
	reg.Disconnect("u1", "c1")

	becameOnline, _, err := reg.Connect(context.Background(), "u1", "c2")
	assert.NoError(t, err)
	assert.False(t, becameOnline)
	assert.True(t, reg.IsOnline("u1"))

	select {
	case uid := <-fired:
		t.Fatalf("unexpected offline transition for %s", uid)
	case <-time.After(100 * time.Millisecond):
	}
	// No offline status was ever persisted.
	assert.Equal(t, []string{domain.StatusOnline}, repo.recorded())
}

func TestDisconnectNonLastConnectionKeepsOnline(t *testing.T) {
	reg, _ := newTestRegistry(20 * time.Millisecond)

	fired := make(chan string, 1)
	reg.OnOffline = func(userID string, lastSeenAt time.Time) { fired <- userID }

	_, _, _ = reg.Connect(context.Background(), "u1", "c1")
	_, _, _ = reg.Connect(context.Background(), "u1", "c2")
	reg.Disconnect("u1", "c1")

	select {
	case <-fired:
		t.Fatal("offline fired while another connection remained")
	case <-time.After(60 * time.Millisecond):
	}
	assert.True(t, reg.IsOnline("u1"))
	assert.Equal(t, 1, reg.ConnectionCount("u1"))
}

func TestDisconnectUnknownConnectionIsNoop(t *testing.T) {
	reg, repo := newTestRegistry(20 * time.Millisecond)

	reg.Disconnect("ghost", "c1")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, repo.recorded())
	assert.False(t, reg.IsOnline("ghost"))
}

func TestOnlineUserIDsIncludesGraceWindow(t *testing.T) {
	reg, _ := newTestRegistry(200 * time.Millisecond)

	_, _, _ = reg.Connect(context.Background(), "u1", "c1")
	_, _, _ = reg.Connect(context.Background(), "u2", "c2")
	reg.Disconnect("u2", "c2")

	ids := reg.OnlineUserIDs()
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
}
