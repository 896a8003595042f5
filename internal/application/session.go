package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/cocode-cli/internal/crdt"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"pkt.systems/pslog"
)

// session owns everything that lives for one room: the binding, the
// provider and, through the provider, the document.
type session struct {
	room     domain.RoomID
	provider *SyncProvider
	binding  *EditorBinding
	log      pslog.Logger
}

// dispose releases the binding, then the provider, then the document.
func (s *session) dispose() {
	if s.binding != nil {
		s.binding.Destroy()
		s.binding = nil
	}
	doc := s.provider.Document()
	s.provider.Disconnect()
	if doc != nil && !doc.Destroyed() {
		doc.Destroy()
	}
	s.log.Info("session closed")
}

// live reports whether the session still holds its document and has not
// failed in a way that needs a fresh session.
func (s *session) live() bool {
	return s.provider.Document() != nil && s.provider.State().Status != domain.StatusError
}

// SessionManager keeps at most one live room session per client.
type SessionManager struct {
	transport ports.SyncTransport
	cfg       ProviderConfig

	mu      sync.Mutex
	current *session
}

func NewSessionManager(transport ports.SyncTransport, cfg ProviderConfig) *SessionManager {
	if cfg.ClientID == "" {
		cfg.ClientID = domain.NewClientID()
	}

	return &SessionManager{
		transport: transport,
		cfg:       cfg,
	}
}

func (m *SessionManager) ClientID() domain.ClientID {
	return m.cfg.ClientID
}

// SwitchRoom makes room the active session. The previous session, if any,
// is disposed before the new one connects. Switching to the room that is
// already live does nothing; a session that was torn down or failed
// authentication is replaced.
func (m *SessionManager) SwitchRoom(ctx context.Context, room domain.RoomID) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("switch room: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.room == room && m.current.live() {
		return nil
	}
	if m.current != nil {
		m.current.dispose()
		m.current = nil
	}

	provider := NewSyncProvider(m.transport, m.cfg)
	if err := provider.Connect(ctx, room); err != nil {
		provider.Disconnect()
		return fmt.Errorf("switch room: %w", err)
	}
	m.current = &session{
		room:     room,
		provider: provider,
		log:      pslog.Ctx(ctx).With("room", room),
	}
	return nil
}

// Attach binds surface to the live session, replacing any earlier binding.
func (m *SessionManager) Attach(ctx context.Context, surface ports.EditorSurface) (*EditorBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, fmt.Errorf("%w: no active session", domain.ErrBinding)
	}
	if m.current.binding != nil {
		m.current.binding.Destroy()
		m.current.binding = nil
	}
	binding, err := Bind(ctx, m.current.provider, surface)
	if err != nil {
		return nil, err
	}
	m.current.binding = binding
	return binding, nil
}

func (m *SessionManager) Current() (domain.RoomID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.room, true
}

// State reports the connection state of the live session, or a
// disconnected state when there is none.
func (m *SessionManager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.ConnectionState{Status: domain.StatusDisconnected}
	}
	return m.current.provider.State()
}

func (m *SessionManager) Provider() *SyncProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current.provider
}

func (m *SessionManager) Document() *crdt.Doc {
	if p := m.Provider(); p != nil {
		return p.Document()
	}
	return nil
}

// Close disposes the live session. Calling it with nothing open is a no-op.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.current.dispose()
	m.current = nil
}
