package application

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	manager := NewSessionManager(transport, ProviderConfig{
		ClientID: "local",
		User:     domain.PresenceUser{Name: "Ada"},
		Clock:    newFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	})
	t.Cleanup(manager.Close)
	return manager, transport
}

func TestSessionManagerStartsEmpty(t *testing.T) {
	t.Parallel()

	manager, _ := newTestSessionManager(t)
	_, ok := manager.Current()
	assert.False(t, ok)
	assert.Nil(t, manager.Provider())
	assert.Nil(t, manager.Document())
	assert.Equal(t, domain.StatusDisconnected, manager.State().Status)
	assert.Equal(t, domain.ClientID("local"), manager.ClientID())
}

func TestSwitchRoomRejectsInvalidRoom(t *testing.T) {
	t.Parallel()

	manager, _ := newTestSessionManager(t)
	require.Error(t, manager.SwitchRoom(context.Background(), ""))
	_, ok := manager.Current()
	assert.False(t, ok)
}

func TestSwitchRoomDisposesPreviousSession(t *testing.T) {
	t.Parallel()

	manager, transport := newTestSessionManager(t)
	require.NoError(t, manager.SwitchRoom(context.Background(), "room-1"))
	first := transport.next(t)
	first.push(ports.TransportEvent{Kind: ports.TransportConnected})
	require.Eventually(t, func() bool { return manager.State().Status == domain.StatusConnected }, waitFor, time.Millisecond)

	firstDoc := manager.Document()
	require.NotNil(t, firstDoc)
	model := newFakeModel("")
	binding, err := manager.Attach(context.Background(), &fakeSurface{model: model})
	require.NoError(t, err)

	require.NoError(t, manager.SwitchRoom(context.Background(), "room-2"))
	transport.next(t)

	room, ok := manager.Current()
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("room-2"), room)
	assert.True(t, binding.Destroyed())
	assert.Zero(t, model.subscribers())
	assert.True(t, first.Closed())
	assert.True(t, firstDoc.Destroyed())
	assert.NotSame(t, firstDoc, manager.Document())
	assert.Equal(t, domain.StatusConnecting, manager.State().Status)
}

func TestSwitchRoomToCurrentRoomKeepsSession(t *testing.T) {
	t.Parallel()

	manager, transport := newTestSessionManager(t)
	require.NoError(t, manager.SwitchRoom(context.Background(), "room-1"))
	transport.next(t)
	provider := manager.Provider()

	require.NoError(t, manager.SwitchRoom(context.Background(), "room-1"))
	assert.Same(t, provider, manager.Provider())
	assert.Empty(t, transport.opened)
}

func TestSwitchRoomReconnectsAfterTeardown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		teardown func(t *testing.T, manager *SessionManager, conn *fakeConn)
	}{
		{
			name: "provider disconnected",
			teardown: func(t *testing.T, manager *SessionManager, _ *fakeConn) {
				manager.Provider().Disconnect()
				require.Nil(t, manager.Document())
			},
		},
		{
			name: "authentication failed",
			teardown: func(t *testing.T, manager *SessionManager, conn *fakeConn) {
				conn.push(ports.TransportEvent{Kind: ports.TransportAuthFailed, Err: domain.ErrUnauthorized})
				require.Eventually(t, func() bool { return manager.State().Status == domain.StatusError }, waitFor, time.Millisecond)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			manager, transport := newTestSessionManager(t)
			require.NoError(t, manager.SwitchRoom(context.Background(), "room-1"))
			first := transport.next(t)
			first.push(ports.TransportEvent{Kind: ports.TransportConnected})
			require.Eventually(t, func() bool { return manager.State().Status == domain.StatusConnected }, waitFor, time.Millisecond)
			provider := manager.Provider()

			tt.teardown(t, manager, first)

			require.NoError(t, manager.SwitchRoom(context.Background(), "room-1"))
			second := transport.next(t)
			assert.NotSame(t, first, second)
			assert.NotSame(t, provider, manager.Provider())
			assert.NotNil(t, manager.Document())
			assert.Equal(t, domain.StatusConnecting, manager.State().Status)

			second.push(ports.TransportEvent{Kind: ports.TransportConnected})
			require.Eventually(t, func() bool { return manager.State().Status == domain.StatusConnected }, waitFor, time.Millisecond)
		})
	}
}

func TestAttachRequiresSession(t *testing.T) {
	t.Parallel()

	manager, _ := newTestSessionManager(t)
	_, err := manager.Attach(context.Background(), &fakeSurface{model: newFakeModel("")})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBinding)
}

func TestAttachReplacesBinding(t *testing.T) {
	t.Parallel()

	manager, transport := newTestSessionManager(t)
	require.NoError(t, manager.SwitchRoom(context.Background(), "room-1"))
	transport.next(t)

	first, err := manager.Attach(context.Background(), &fakeSurface{model: newFakeModel("")})
	require.NoError(t, err)
	second, err := manager.Attach(context.Background(), &fakeSurface{model: newFakeModel("")})
	require.NoError(t, err)

	assert.True(t, first.Destroyed())
	assert.False(t, second.Destroyed())
}

func TestSessionManagerCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	manager, transport := newTestSessionManager(t)
	require.NoError(t, manager.SwitchRoom(context.Background(), "room-1"))
	conn := transport.next(t)
	doc := manager.Document()

	manager.Close()
	manager.Close()

	assert.True(t, conn.Closed())
	assert.True(t, doc.Destroyed())
	_, ok := manager.Current()
	assert.False(t, ok)
	assert.Equal(t, domain.StatusDisconnected, manager.State().Status)
}
