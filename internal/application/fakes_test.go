package application

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/bnema/cocode-cli/internal/protocol"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func mockAnyContext() interface{} {
	return mock.Anything
}

// fakeClock hands out timers that fire only when the test says so.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []chan time.Time
	delays  chan time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, delays: make(chan time.Duration, 1024)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	c.delays <- d
	return ch
}

// Fire releases the oldest pending timer.
func (c *fakeClock) Fire(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) > 0
	}, waitFor, time.Millisecond)

	c.mu.Lock()
	ch := c.waiters[0]
	c.waiters = c.waiters[1:]
	c.mu.Unlock()
	ch <- c.Now()
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *fakeClock) NextDelay(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.delays:
		return d
	case <-time.After(waitFor):
		t.Fatal("no timer was scheduled")
		return 0
	}
}

// fakeConn is a scripted sync connection: the test pushes transport events
// and reads what the provider sent.
type fakeConn struct {
	events chan ports.TransportEvent
	sent   chan protocol.Message

	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan ports.TransportEvent, 64),
		sent:   make(chan protocol.Message, 256),
	}
}

func (c *fakeConn) Events() <-chan ports.TransportEvent {
	return c.events
}

func (c *fakeConn) Send(msg protocol.Message) error {
	c.sent <- msg
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) push(ev ports.TransportEvent) {
	c.events <- ev
}

func (c *fakeConn) deliver(msg protocol.Message) {
	c.events <- ports.TransportEvent{Kind: ports.TransportMessage, Message: msg}
}

// expect returns the next sent message of type typ, skipping others.
func (c *fakeConn) expect(t *testing.T, typ protocol.Type) protocol.Message {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case msg := <-c.sent:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s message sent", typ)
			return protocol.Message{}
		}
	}
}

type fakeTransport struct {
	opened chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeConn, 16)}
}

func (f *fakeTransport) Open(_ context.Context, _ domain.RoomID) (ports.SyncConn, error) {
	conn := newFakeConn()
	f.opened <- conn
	return conn, nil
}

func (f *fakeTransport) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-f.opened:
		return conn
	case <-time.After(waitFor):
		t.Fatal("transport was not opened")
		return nil
	}
}

// fakeSurface is a minimal editor: a rune buffer with a selection.
type fakeSurface struct {
	model *fakeModel
}

func (s *fakeSurface) Model() ports.TextModel {
	if s.model == nil {
		return nil
	}
	return s.model
}

type fakeModel struct {
	mu         sync.Mutex
	text       []rune
	sel        domain.Selection
	changeSubs map[int]func(domain.TextEdit)
	selSubs    map[int]func(domain.Selection)
	nextSub    int
	cursors    []domain.RemoteCursor
}

func newFakeModel(text string) *fakeModel {
	return &fakeModel{
		text:       []rune(text),
		changeSubs: map[int]func(domain.TextEdit){},
		selSubs:    map[int]func(domain.Selection){},
	}
}

func (m *fakeModel) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.text)
}

func (m *fakeModel) ApplyEdits(edits []domain.TextEdit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, edit := range edits {
		m.applyLocked(edit)
	}
}

func (m *fakeModel) applyLocked(edit domain.TextEdit) {
	tail := append([]rune{}, m.text[edit.Offset+edit.Delete:]...)
	m.text = append(append(m.text[:edit.Offset], []rune(edit.Insert)...), tail...)
}

func (m *fakeModel) Selection() domain.Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sel
}

func (m *fakeModel) SetSelection(sel domain.Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sel = sel
}

func (m *fakeModel) OnChange(fn func(domain.TextEdit)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.changeSubs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.changeSubs, id)
	}
}

func (m *fakeModel) OnSelectionChange(fn func(domain.Selection)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.selSubs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.selSubs, id)
	}
}

func (m *fakeModel) SetRemoteCursors(cursors []domain.RemoteCursor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors = append([]domain.RemoteCursor(nil), cursors...)
}

func (m *fakeModel) Cursors() []domain.RemoteCursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RemoteCursor(nil), m.cursors...)
}

// typeEdit is a user keystroke: it changes the buffer and notifies
// subscribers, unlike ApplyEdits.
func (m *fakeModel) typeEdit(edit domain.TextEdit) {
	m.mu.Lock()
	m.applyLocked(edit)
	subs := make([]func(domain.TextEdit), 0, len(m.changeSubs))
	for _, fn := range m.changeSubs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(edit)
	}
}

func (m *fakeModel) moveCursor(sel domain.Selection) {
	m.mu.Lock()
	m.sel = sel
	subs := make([]func(domain.Selection), 0, len(m.selSubs))
	for _, fn := range m.selSubs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(sel)
	}
}

func (m *fakeModel) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.changeSubs) + len(m.selSubs)
}

// collectEvents drains a provider subscription in the background.
type eventLog struct {
	mu     sync.Mutex
	events []ProviderEvent
}

func collectEvents(t *testing.T, p *SyncProvider) *eventLog {
	t.Helper()
	ch, cancel := p.Subscribe(256)
	log := &eventLog{}
	go func() {
		for ev := range ch {
			log.mu.Lock()
			log.events = append(log.events, ev)
			log.mu.Unlock()
		}
	}()
	t.Cleanup(cancel)
	return log
}

func (l *eventLog) kinds() []ProviderEventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]ProviderEventKind, 0, len(l.events))
	for _, ev := range l.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (l *eventLog) has(kind ProviderEventKind) bool {
	for _, k := range l.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func (l *eventLog) statuses() []domain.ConnectionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.ConnectionStatus
	for _, ev := range l.events {
		switch ev.Kind {
		case EventPresenceChanged, EventSynced:
			continue
		}
		// An error reported without a transition keeps the current status.
		if n := len(out); n > 0 && out[n-1] == ev.State.Status {
			continue
		}
		out = append(out, ev.State.Status)
	}
	return out
}

func (l *eventLog) first(kind ProviderEventKind) ProviderEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == kind {
			return ev
		}
	}
	return ProviderEvent{}
}

func (l *eventLog) last() ProviderEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return ProviderEvent{}
	}
	return l.events[len(l.events)-1]
}

func waitStatus(t *testing.T, p *SyncProvider, want domain.ConnectionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.State().Status == want
	}, waitFor, time.Millisecond, "status never reached %s (now %s)", want, p.State().Status)
}

func waitText(t *testing.T, get func() string, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return get() == want
	}, waitFor, time.Millisecond, "text never became %q", want)
}

func joinKinds(kinds []ProviderEventKind) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, k.String())
	}
	return strings.Join(parts, ",")
}
