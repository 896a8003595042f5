package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/cocode-cli/internal/crdt"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/bnema/cocode-cli/internal/presence"
	"github.com/bnema/cocode-cli/internal/protocol"
	"github.com/cenkalti/backoff/v4"
	"pkt.systems/pslog"
)

// DocumentText is the name of the text every editor binds to.
const DocumentText = "index"

var (
	ErrNotConnected = errors.New("sync provider is not connected")
	// ErrReconnectExhausted ends a session whose reconnect policy ran out.
	// The provider stays disconnected until the next Connect.
	ErrReconnectExhausted = errors.New("sync reconnect attempts exhausted")
)

type ProviderEventKind int

const (
	EventConnecting ProviderEventKind = iota + 1
	EventConnected
	EventSynced
	EventDisconnected
	EventReconnecting
	EventError
	EventPresenceChanged
)

func (k ProviderEventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventSynced:
		return "synced"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	case EventPresenceChanged:
		return "presence"
	default:
		return "unknown"
	}
}

type ProviderEvent struct {
	Kind  ProviderEventKind
	State domain.ConnectionState
	Err   error
}

type ReconnectPolicy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:         5,
		InitialInterval:     time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.3,
	}
}

func (p ReconnectPolicy) backOff() backoff.BackOff {
	if p.MaxAttempts <= 0 {
		return &backoff.StopBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = p.RandomizationFactor
	exp.MaxElapsedTime = 0
	b := backoff.WithMaxRetries(exp, uint64(p.MaxAttempts))
	b.Reset()
	return b
}

type ProviderConfig struct {
	ClientID  domain.ClientID
	User      domain.PresenceUser
	Reconnect ReconnectPolicy
	Clock     ports.Clock
}

// bindingHandle is the part of an editor binding the provider tears down.
type bindingHandle interface {
	Destroy()
}

// SyncProvider owns the sync connection of one room, the replicated
// document and the presence directory that go with it, and the connection
// state machine. A single dispatcher goroutine per connection serializes
// every state change.
type SyncProvider struct {
	transport ports.SyncTransport
	cfg       ProviderConfig

	mu       sync.Mutex
	state    domain.ConnectionState
	room     domain.RoomID
	doc      *crdt.Doc
	presence *presence.Directory
	binding  bindingHandle
	session  *providerSession
	lastErr  error
	log      pslog.Logger
	subs     map[int]chan ProviderEvent
	nextSub  int
}

type providerSession struct {
	cancel    context.CancelFunc
	done      chan struct{}
	outbox    *opQueue
	presence  chan struct{}
	unobserve func()
}

func NewSyncProvider(transport ports.SyncTransport, cfg ProviderConfig) *SyncProvider {
	if cfg.ClientID == "" {
		cfg.ClientID = domain.NewClientID()
	}
	if cfg.User.ID == "" {
		cfg.User.ID = string(cfg.ClientID)
	}
	if cfg.User.Color == "" {
		cfg.User.Color = domain.ColorFor(string(cfg.ClientID))
	}
	if cfg.Reconnect == (ReconnectPolicy{}) {
		cfg.Reconnect = DefaultReconnectPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}

	return &SyncProvider{
		transport: transport,
		cfg:       cfg,
		state:     domain.ConnectionState{Status: domain.StatusDisconnected},
		subs:      map[int]chan ProviderEvent{},
	}
}

func (p *SyncProvider) ClientID() domain.ClientID {
	return p.cfg.ClientID
}

func (p *SyncProvider) State() domain.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Settled reports whether the session is connected and synced with every
// local edit made so far sent and acknowledged.
func (p *SyncProvider) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil && p.state.Ready() && p.session.outbox.empty()
}

// Err returns the last error the session reported, cleared on every
// successful connect.
func (p *SyncProvider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *SyncProvider) Room() domain.RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

// Document returns the live document, or nil between sessions.
func (p *SyncProvider) Document() *crdt.Doc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc
}

// Presence returns the live presence directory, or nil between sessions.
func (p *SyncProvider) Presence() *presence.Directory {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presence
}

// Subscribe delivers provider events on a buffered channel. A subscriber
// that falls behind misses events; State stays authoritative.
func (p *SyncProvider) Subscribe(buffer int) (<-chan ProviderEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ProviderEvent, buffer)

	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// Connect tears down whatever the provider held and opens a fresh session
// for room.
func (p *SyncProvider) Connect(ctx context.Context, room domain.RoomID) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	p.cleanup()

	log := pslog.Ctx(ctx).With("room", room, "client", p.cfg.ClientID)
	doc := crdt.NewDoc(p.cfg.ClientID)
	dir := presence.NewDirectory(p.cfg.ClientID)
	dir.SetLocal(p.cfg.User, nil)

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &providerSession{
		cancel:   cancel,
		done:     make(chan struct{}),
		outbox:   newOpQueue(),
		presence: make(chan struct{}, 1),
	}
	sess.unobserve = doc.Observe(func(change crdt.Change) {
		if change.Origin == crdt.OriginLocal {
			sess.outbox.push(change.Update.Ops)
		}
	})

	p.mu.Lock()
	p.room = room
	p.doc = doc
	p.presence = dir
	p.session = sess
	p.log = log
	p.lastErr = nil
	p.transitionLocked(domain.StatusConnecting, nil, nil)
	p.mu.Unlock()

	log.Info("sync session starting")
	go p.run(sessCtx, sess, room, doc, dir, log)
	return nil
}

// Disconnect releases the session. It is safe to call at any time.
func (p *SyncProvider) Disconnect() {
	p.cleanup()
}

// SetLocalCursor publishes the local selection to peers.
func (p *SyncProvider) SetLocalCursor(sel *domain.Selection) {
	p.mu.Lock()
	dir := p.presence
	sess := p.session
	p.mu.Unlock()
	if dir == nil || sess == nil {
		return
	}
	if _, ok := dir.SetLocalCursor(sel); !ok {
		return
	}
	select {
	case sess.presence <- struct{}{}:
	default:
	}
}

// bind installs b as the session's editor binding and returns the live
// document and presence it must use together with the binding it replaces.
// The caller destroys the previous binding.
func (p *SyncProvider) bind(b bindingHandle) (bindingHandle, *crdt.Doc, *presence.Directory, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil || p.session == nil {
		return nil, nil, nil, fmt.Errorf("%w: no live document for this session", domain.ErrBinding)
	}
	prev := p.binding
	p.binding = b
	return prev, p.doc, p.presence, nil
}

func (p *SyncProvider) unbind(b bindingHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.binding == b {
		p.binding = nil
	}
}

// cleanup detaches the binding, closes the transport, releases the
// document and resets presence, in that order. Errors are logged only.
func (p *SyncProvider) cleanup() {
	p.mu.Lock()
	binding := p.binding
	sess := p.session
	doc := p.doc
	dir := p.presence
	log := p.log
	p.binding = nil
	p.session = nil
	p.doc = nil
	p.presence = nil
	p.mu.Unlock()

	if binding != nil {
		binding.Destroy()
	}
	if sess != nil {
		sess.unobserve()
		sess.cancel()
		<-sess.done
	}
	if doc != nil {
		doc.Destroy()
	}
	if dir != nil {
		dir.Reset()
	}

	p.settle()
	if sess != nil && log != nil {
		log.Debug("sync session released")
	}
}

// settle moves a live status to disconnected. Error is kept so callers can
// still see why the session ended.
func (p *SyncProvider) settle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state.Status {
	case domain.StatusConnecting, domain.StatusConnected, domain.StatusReconnecting:
		p.transitionLocked(domain.StatusDisconnected, nil, offline)
	}
	p.state.IsSynced = false
	p.state.Users = 0
}

type dispatcher struct {
	p       *SyncProvider
	room    domain.RoomID
	doc     *crdt.Doc
	dir     *presence.Directory
	log     pslog.Logger
	retry   backoff.BackOff
	conn    ports.SyncConn
	events  <-chan ports.TransportEvent
	timer   <-chan time.Time
	nextID  uint64
	pending map[uint64]struct{}
	synced  bool
	// unsent is set when local ops were dropped while offline and the relay
	// has not yet asked for them with a SyncStep1.
	unsent  bool
}

func (p *SyncProvider) run(ctx context.Context, sess *providerSession, room domain.RoomID, doc *crdt.Doc, dir *presence.Directory, log pslog.Logger) {
	defer close(sess.done)

	d := &dispatcher{
		p:       p,
		room:    room,
		doc:     doc,
		dir:     dir,
		log:     log,
		retry:   p.cfg.Reconnect.backOff(),
		pending: map[uint64]struct{}{},
	}
	defer d.closeConn()

	d.open(ctx)
	for {
		select {
		case <-ctx.Done():
			d.closeConn()
			p.settle()
			return
		case ev, ok := <-d.events:
			if !ok {
				d.handle(ports.TransportEvent{Kind: ports.TransportDisconnected})
				continue
			}
			d.handle(ev)
		case <-sess.outbox.ready:
			ops := sess.outbox.drain()
			d.flushLocal(ops)
			sess.outbox.release(len(ops))
		case <-sess.presence:
			d.sendAwareness()
		case <-d.timer:
			d.timer = nil
			d.p.transition(domain.StatusConnecting, nil, nil)
			d.open(ctx)
		}
	}
}

func (d *dispatcher) open(ctx context.Context) {
	conn, err := d.p.transport.Open(ctx, d.room)
	if err != nil {
		d.handle(ports.TransportEvent{Kind: ports.TransportError, Err: err})
		return
	}
	d.conn = conn
	d.events = conn.Events()
}

func (d *dispatcher) closeConn() {
	if d.conn == nil {
		return
	}
	if err := d.conn.Close(); err != nil {
		d.log.Debug("close sync transport", "err", err)
	}
	d.conn = nil
	d.events = nil
}

func (d *dispatcher) handle(ev ports.TransportEvent) {
	switch ev.Kind {
	case ports.TransportConnected:
		d.retry.Reset()
		d.pending = map[uint64]struct{}{}
		d.synced = false
		d.p.transition(domain.StatusConnected, nil, func(s *domain.ConnectionState) {
			s.Users = d.dir.Size()
			s.IsSynced = false
		})
		d.log.Info("sync connected")
		d.send(protocol.SyncStep1(d.doc.StateVector()))
		d.sendAwareness()

	case ports.TransportMessage:
		d.handleMessage(ev.Message)

	case ports.TransportDisconnected:
		d.closeConn()
		d.dir.ClearRemote()
		d.synced = false
		if d.p.State().Status != domain.StatusDisconnected && d.p.transition(domain.StatusDisconnected, ev.Err, offline) {
			d.log.Info("sync disconnected", "err", ev.Err)
		} else {
			d.p.update(offline)
		}
		d.scheduleRetry()

	case ports.TransportAuthFailed:
		d.closeConn()
		d.dir.ClearRemote()
		d.synced = false
		err := ev.Err
		if err == nil {
			err = domain.ErrUnauthorized
		}
		if !d.p.transition(domain.StatusError, err, offline) {
			d.p.update(offline)
		}
		d.log.Warn("sync authentication failed", "err", err)

	case ports.TransportError:
		d.closeConn()
		d.dir.ClearRemote()
		d.synced = false
		if !d.p.transition(domain.StatusError, ev.Err, offline) {
			d.p.update(offline)
		}
		d.log.Warn("sync transport error", "err", ev.Err)
		d.scheduleRetry()
	}
}

func (d *dispatcher) scheduleRetry() {
	delay := d.retry.NextBackOff()
	if delay == backoff.Stop {
		d.log.Warn("sync reconnect attempts exhausted")
		d.p.publish(EventError, ErrReconnectExhausted)
		return
	}
	if !d.p.transition(domain.StatusReconnecting, nil, nil) {
		return
	}
	d.log.Debug("sync reconnect scheduled", "delay", delay)
	d.timer = d.p.cfg.Clock.After(delay)
}

func (d *dispatcher) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeSyncStep1:
		d.unsent = false
		if update := d.doc.Diff(msg.StateVector); !update.Empty() {
			d.nextID++
			d.pending[d.nextID] = struct{}{}
			d.send(protocol.SyncStep2(d.nextID, update))
		}
	case protocol.TypeSyncStep2:
		d.applyRemote(msg.Update)
		d.synced = true
	case protocol.TypeUpdate:
		d.applyRemote(msg.Update)
	case protocol.TypeAck:
		delete(d.pending, msg.ID)
	case protocol.TypeAwareness:
		changed := d.dir.ApplyRemote(msg.Presence)
		if d.dir.Remove(msg.Removed...) {
			changed = true
		}
		if changed {
			d.p.update(func(s *domain.ConnectionState) {
				s.Users = d.dir.Size()
			})
			d.p.publish(EventPresenceChanged, nil)
		}
	}
	d.recomputeSynced()
}

func (d *dispatcher) applyRemote(update crdt.Update) {
	if update.Empty() {
		return
	}
	if _, err := d.doc.Apply(update); err != nil {
		d.log.Warn("apply remote update", "err", err)
	}
}

func (d *dispatcher) flushLocal(ops []crdt.Op) {
	if len(ops) == 0 {
		return
	}
	if d.p.State().Status != domain.StatusConnected {
		d.unsent = true
		return
	}
	d.nextID++
	d.pending[d.nextID] = struct{}{}
	d.send(protocol.Update(d.nextID, crdt.Update{Ops: ops}))
	d.recomputeSynced()
}

func (d *dispatcher) sendAwareness() {
	if d.conn == nil || d.p.State().Status != domain.StatusConnected {
		return
	}
	local, ok := d.dir.Local()
	if !ok {
		return
	}
	d.send(protocol.Awareness([]domain.PresenceEntry{local}, nil))
}

func (d *dispatcher) send(msg protocol.Message) {
	if d.conn == nil {
		return
	}
	if err := d.conn.Send(msg); err != nil {
		d.log.Debug("send sync message", "type", msg.Type, "err", err)
	}
}

func (d *dispatcher) recomputeSynced() {
	synced := d.synced && len(d.pending) == 0 && !d.unsent
	var became bool
	d.p.update(func(s *domain.ConnectionState) {
		synced = synced && s.Status == domain.StatusConnected
		became = synced && !s.IsSynced
		s.IsSynced = synced
	})
	if became {
		d.log.Debug("sync reconciled")
		d.p.publish(EventSynced, nil)
	}
}

func (p *SyncProvider) update(fn func(s *domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.state)
}

// offline clears the fields that only mean something while connected.
func offline(s *domain.ConnectionState) {
	s.Users = 0
	s.IsSynced = false
}

func (p *SyncProvider) transition(to domain.ConnectionStatus, err error, mutate func(*domain.ConnectionState)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transitionLocked(to, err, mutate)
}

// transitionLocked moves to a new status and applies mutate in the same
// critical section, so the published event and State agree on every field.
func (p *SyncProvider) transitionLocked(to domain.ConnectionStatus, err error, mutate func(*domain.ConnectionState)) bool {
	from := p.state.Status
	if !from.CanTransition(to) {
		if p.log != nil {
			p.log.Warn("refusing connection transition", "from", from, "to", to)
		}
		return false
	}
	p.state.Status = to
	if mutate != nil {
		mutate(&p.state)
	}
	if to != domain.StatusConnected {
		p.state.IsSynced = false
	} else {
		p.lastErr = nil
	}

	kind := EventError
	switch to {
	case domain.StatusConnecting:
		kind = EventConnecting
	case domain.StatusConnected:
		kind = EventConnected
	case domain.StatusDisconnected:
		kind = EventDisconnected
	case domain.StatusReconnecting:
		kind = EventReconnecting
	}
	p.publishLocked(kind, err)
	return true
}

func (p *SyncProvider) publish(kind ProviderEventKind, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishLocked(kind, err)
}

func (p *SyncProvider) publishLocked(kind ProviderEventKind, err error) {
	if err != nil {
		p.lastErr = err
	}
	ev := ProviderEvent{Kind: kind, State: p.state, Err: err}
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// opQueue collects local operations between dispatcher turns without
// blocking the editing goroutine.
type opQueue struct {
	mu     sync.Mutex
	ops    []crdt.Op
	queued int
	ready  chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{ready: make(chan struct{}, 1)}
}

func (q *opQueue) push(ops []crdt.Op) {
	q.mu.Lock()
	q.ops = append(q.ops, ops...)
	q.queued += len(ops)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *opQueue) drain() []crdt.Op {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops := q.ops
	q.ops = nil
	return ops
}

// release marks n drained operations as handled by the dispatcher.
func (q *opQueue) release(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued -= n
}

func (q *opQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued == 0
}
