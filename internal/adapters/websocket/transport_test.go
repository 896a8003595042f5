package websocket

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bnema/cocode-cli/internal/adapters/store/badger"
	"github.com/bnema/cocode-cli/internal/application"
	"github.com/bnema/cocode-cli/internal/crdt"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/bnema/cocode-cli/internal/protocol"
	"github.com/bnema/cocode-cli/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newRelay(t *testing.T, cfg relay.Config) (*relay.Server, string) {
	t.Helper()
	store, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	srv := relay.NewServer(cfg, store)
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		server.Close()
		srv.Close()
		_ = store.Close()
	})
	return srv, "ws" + strings.TrimPrefix(server.URL, "http") + "/crdt"
}

func nextEvent(t *testing.T, conn ports.SyncConn) ports.TransportEvent {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(waitFor):
		t.Fatal("no transport event")
		return ports.TransportEvent{}
	}
}

func nextMessage(t *testing.T, conn ports.SyncConn, typ protocol.Type) protocol.Message {
	t.Helper()
	for {
		ev := nextEvent(t, conn)
		require.Equal(t, ports.TransportMessage, ev.Kind, "unexpected %v: %v", ev.Kind, ev.Err)
		if ev.Message.Type == typ {
			return ev.Message
		}
	}
}

func TestRoomURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		room    domain.RoomID
		want    string
		wantErr string
	}{
		{name: "adds document", raw: "ws://localhost:3001/crdt", room: "r1", want: "ws://localhost:3001/crdt?document=r1"},
		{name: "keeps query", raw: "wss://relay.example/crdt?v=2", room: "r1", want: "wss://relay.example/crdt?document=r1&v=2"},
		{name: "http scheme", raw: "http://localhost/crdt", room: "r1", wantErr: "ws or wss"},
		{name: "no host", raw: "ws:///crdt", room: "r1", wantErr: "host is required"},
		{name: "bad room", raw: "ws://localhost/crdt", room: "", wantErr: "sync room"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := roomURL(tt.raw, tt.room)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectAndSync(t *testing.T) {
	t.Parallel()

	_, url := newRelay(t, relay.Config{Token: "secret"})
	conn, err := NewTransport(Config{URL: url, Tokens: ports.StaticToken("secret")}).Open(context.Background(), "room-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Equal(t, ports.TransportConnected, nextEvent(t, conn).Kind)

	doc := crdt.NewDoc("writer")
	change, err := doc.Text(relay.DocumentText).Insert(0, "hello")
	require.NoError(t, err)
	require.NoError(t, conn.Send(protocol.Update(7, change.Update)))
	assert.Equal(t, uint64(7), nextMessage(t, conn, protocol.TypeAck).ID)

	require.NoError(t, conn.Send(protocol.SyncStep1(crdt.StateVector{})))
	step2 := nextMessage(t, conn, protocol.TypeSyncStep2)
	replica := crdt.NewDoc("reader")
	_, err = replica.Apply(step2.Update)
	require.NoError(t, err)
	assert.Equal(t, "hello", replica.Text(relay.DocumentText).String())
}

func TestAuthFailure(t *testing.T) {
	t.Parallel()

	_, url := newRelay(t, relay.Config{Token: "secret"})
	conn, err := NewTransport(Config{URL: url, Tokens: ports.StaticToken("guess")}).Open(context.Background(), "room-1")
	require.NoError(t, err)

	ev := nextEvent(t, conn)
	assert.Equal(t, ports.TransportAuthFailed, ev.Kind)
	assert.ErrorIs(t, ev.Err, domain.ErrUnauthorized)
	_, ok := <-conn.Events()
	assert.False(t, ok)
}

func TestUnreachableRelay(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/crdt"
	server.Close()

	conn, err := NewTransport(Config{URL: url}).Open(context.Background(), "room-1")
	require.NoError(t, err)

	ev := nextEvent(t, conn)
	assert.Equal(t, ports.TransportDisconnected, ev.Kind)
	assert.ErrorIs(t, ev.Err, domain.ErrNetwork)
}

func TestCloseEndsEvents(t *testing.T) {
	t.Parallel()

	srv, url := newRelay(t, relay.Config{})
	conn, err := NewTransport(Config{URL: url}).Open(context.Background(), "room-1")
	require.NoError(t, err)
	require.Equal(t, ports.TransportConnected, nextEvent(t, conn).Kind)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(protocol.Ack(1)), ErrClosed)
	require.Eventually(t, func() bool { return srv.Rooms().Loaded() == 0 }, waitFor, 5*time.Millisecond)
}

func TestPolicyCloseIsAnError(t *testing.T) {
	t.Parallel()

	_, url := newRelay(t, relay.Config{MessageRate: 1, MessageBurst: 1})
	conn, err := NewTransport(Config{URL: url}).Open(context.Background(), "room-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Equal(t, ports.TransportConnected, nextEvent(t, conn).Kind)

	for i := 0; i < 2; i++ {
		_ = conn.Send(protocol.Awareness(nil, nil))
	}
	for {
		ev := nextEvent(t, conn)
		if ev.Kind == ports.TransportMessage {
			continue
		}
		assert.Equal(t, ports.TransportError, ev.Kind)
		return
	}
}

func TestProviderOverWebsocket(t *testing.T) {
	t.Parallel()

	srv, url := newRelay(t, relay.Config{})
	transport := NewTransport(Config{URL: url})

	p := application.NewSyncProvider(transport, application.ProviderConfig{ClientID: "alice"})
	require.NoError(t, p.Connect(context.Background(), "room-1"))
	t.Cleanup(p.Disconnect)
	require.Eventually(t, func() bool { return p.State().Ready() }, waitFor, 5*time.Millisecond)

	_, err := p.Document().Text(application.DocumentText).Insert(0, "over the wire")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		text, err := srv.Rooms().Text(context.Background(), "room-1")
		return err == nil && text == "over the wire" && p.State().Ready()
	}, waitFor, 5*time.Millisecond)
}
