// Package relay is the server side of room synchronization: one hub per
// room holding a server replica, the REST task and room API, and the demo
// agent that fulfils tasks.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/cocode-cli/internal/crdt"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/bnema/cocode-cli/internal/presence"
	"github.com/bnema/cocode-cli/internal/protocol"
	"github.com/google/uuid"
	"pkt.systems/pslog"
)

// DocumentText is the text of a room that editors bind to.
const DocumentText = "index"

const memberQueueSize = 256

// Member is one sync connection in a room. The relay writes to it through
// Outbound; Done closes when the hub drops the member.
type Member struct {
	id   string
	out  chan protocol.Message
	done chan struct{}
	once sync.Once
}

func newMember() *Member {
	return &Member{
		id:   uuid.NewString(),
		out:  make(chan protocol.Message, memberQueueSize),
		done: make(chan struct{}),
	}
}

func (m *Member) ID() string {
	return m.id
}

func (m *Member) Outbound() <-chan protocol.Message {
	return m.out
}

func (m *Member) Done() <-chan struct{} {
	return m.done
}

// Kick drops the member from the room.
func (m *Member) Kick() {
	m.once.Do(func() { close(m.done) })
}

// enqueue hands msg to the member's writer. A member that cannot keep up is
// kicked; it resynchronizes from its state vector when it reconnects.
func (m *Member) enqueue(msg protocol.Message) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.out <- msg:
		return true
	default:
		m.Kick()
		return false
	}
}

// Hub holds the server replica of one room.
type Hub struct {
	room    domain.RoomID
	store   ports.UpdateStore
	metrics *Metrics

	mu      sync.Mutex
	doc     *crdt.Doc
	dir     *presence.Directory
	owners  map[domain.ClientID]*Member
	members map[*Member]struct{}
	pins    int
}

// loadHub rebuilds the room document from the persisted updates.
func loadHub(ctx context.Context, room domain.RoomID, store ports.UpdateStore, metrics *Metrics) (*Hub, error) {
	doc := crdt.NewDoc(domain.ClientID("relay-" + uuid.NewString()))
	updates, err := store.LoadUpdates(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", room, err)
	}
	for _, update := range updates {
		if _, err := doc.Apply(update); err != nil {
			return nil, fmt.Errorf("replay room %s: %w", room, err)
		}
	}

	return &Hub{
		room:    room,
		store:   store,
		metrics: metrics,
		doc:     doc,
		dir:     presence.NewDirectory(""),
		owners:  map[domain.ClientID]*Member{},
		members: map[*Member]struct{}{},
	}, nil
}

func (h *Hub) Room() domain.RoomID {
	return h.room
}

func (h *Hub) Text() string {
	return h.doc.Text(DocumentText).String()
}

func (h *Hub) Members() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

func (h *Hub) join() *Member {
	m := newMember()
	h.mu.Lock()
	h.members[m] = struct{}{}
	h.mu.Unlock()
	h.metrics.clients.Inc()
	return m
}

// leave drops m and tells the others which presence entries went with it.
func (h *Hub) leave(ctx context.Context, m *Member) {
	h.mu.Lock()
	if _, ok := h.members[m]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.members, m)
	var removed []domain.ClientID
	for id, owner := range h.owners {
		if owner == m {
			removed = append(removed, id)
			delete(h.owners, id)
		}
	}
	h.dir.Remove(removed...)
	if len(removed) > 0 {
		h.broadcastLocked(m, protocol.Awareness(nil, removed))
	}
	h.mu.Unlock()

	m.Kick()
	h.metrics.clients.Dec()
	pslog.Ctx(ctx).Debug("member left", "room", h.room, "member", m.id, "presence_removed", len(removed))
}

func (h *Hub) idle() bool {
	return len(h.members) == 0 && h.pins == 0
}

// Handle processes one message from m.
func (h *Hub) Handle(ctx context.Context, m *Member, msg protocol.Message) {
	h.metrics.messages.WithLabelValues(msg.Type.String()).Inc()
	log := pslog.Ctx(ctx)

	switch msg.Type {
	case protocol.TypeSyncStep1:
		h.mu.Lock()
		m.enqueue(protocol.SyncStep2(0, h.doc.Diff(msg.StateVector)))
		m.enqueue(protocol.SyncStep1(h.doc.StateVector()))
		if entries := h.dir.Entries(); len(entries) > 0 {
			m.enqueue(protocol.Awareness(entries, nil))
		}
		h.mu.Unlock()

	case protocol.TypeSyncStep2, protocol.TypeUpdate:
		h.mu.Lock()
		applied, err := h.doc.Apply(msg.Update)
		if err != nil {
			h.metrics.updateErrors.Inc()
			log.Warn("rejecting update", "room", h.room, "member", m.id, "err", err)
		} else if !applied.Empty() {
			if err := h.store.AppendUpdate(ctx, h.room, applied); err != nil {
				h.metrics.updateErrors.Inc()
				log.Error("persist update", "room", h.room, "err", err)
			}
			h.broadcastLocked(m, protocol.Update(0, applied))
		}
		if msg.ID != 0 {
			m.enqueue(protocol.Ack(msg.ID))
		}
		h.mu.Unlock()

	case protocol.TypeAwareness:
		h.mu.Lock()
		accepted := make([]domain.PresenceEntry, 0, len(msg.Presence))
		for _, entry := range msg.Presence {
			if owner, ok := h.owners[entry.ClientID]; ok && owner != m {
				log.Warn("rejecting presence for client owned by another connection", "room", h.room, "client", entry.ClientID)
				continue
			}
			accepted = append(accepted, entry)
		}
		var removed []domain.ClientID
		for _, id := range msg.Removed {
			if h.owners[id] == m {
				removed = append(removed, id)
				delete(h.owners, id)
			}
		}
		changed := h.dir.ApplyRemote(accepted)
		if changed {
			for _, entry := range accepted {
				h.owners[entry.ClientID] = m
			}
		}
		if h.dir.Remove(removed...) {
			changed = true
		}
		if changed {
			h.broadcastLocked(m, protocol.Awareness(accepted, removed))
		}
		h.mu.Unlock()

	case protocol.TypeAck:
	}
}

// Mutate runs fn against the room text as the relay's own replica and ships
// the resulting operations to every member.
func (h *Hub) Mutate(ctx context.Context, fn func(text *crdt.Text) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ops []crdt.Op
	unobserve := h.doc.Observe(func(change crdt.Change) {
		if change.Origin == crdt.OriginLocal {
			ops = append(ops, change.Update.Ops...)
		}
	})
	err := fn(h.doc.Text(DocumentText))
	unobserve()
	if len(ops) > 0 {
		update := crdt.Update{Ops: ops}
		if perr := h.store.AppendUpdate(ctx, h.room, update); perr != nil {
			h.metrics.updateErrors.Inc()
			err = errors.Join(err, fmt.Errorf("persist relay update: %w", perr))
		}
		h.broadcastLocked(nil, protocol.Update(0, update))
	}
	if err != nil {
		return fmt.Errorf("mutate room %s: %w", h.room, err)
	}
	return nil
}

func (h *Hub) broadcastLocked(from *Member, msg protocol.Message) {
	for m := range h.members {
		if m == from {
			continue
		}
		m.enqueue(msg)
	}
}

// Rooms is the registry of loaded hubs. A hub stays in memory while it has
// members or pending mutations.
type Rooms struct {
	store   ports.UpdateStore
	metrics *Metrics

	mu   sync.Mutex
	hubs map[domain.RoomID]*Hub
}

func NewRooms(store ports.UpdateStore, metrics *Metrics) *Rooms {
	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Rooms{
		store:   store,
		metrics: metrics,
		hubs:    map[domain.RoomID]*Hub{},
	}
}

// Join adds a new member to room, loading the room if needed.
func (r *Rooms) Join(ctx context.Context, room domain.RoomID) (*Hub, *Member, error) {
	if err := room.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	hub, err := r.hubLocked(ctx, room)
	if err != nil {
		return nil, nil, err
	}
	m := hub.join()
	pslog.Ctx(ctx).Debug("member joined", "room", room, "member", m.id)
	return hub, m, nil
}

// Leave removes m from hub and evicts the hub once it is idle.
func (r *Rooms) Leave(ctx context.Context, hub *Hub, m *Member) {
	hub.leave(ctx, m)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(ctx, hub)
}

// Mutate applies fn to the room document whether or not anyone is
// connected.
func (r *Rooms) Mutate(ctx context.Context, room domain.RoomID, fn func(text *crdt.Text) error) error {
	r.mu.Lock()
	hub, err := r.hubLocked(ctx, room)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	hub.mu.Lock()
	hub.pins++
	hub.mu.Unlock()
	r.mu.Unlock()

	err = hub.Mutate(ctx, fn)

	r.mu.Lock()
	defer r.mu.Unlock()
	hub.mu.Lock()
	hub.pins--
	hub.mu.Unlock()
	r.evictLocked(ctx, hub)
	return err
}

// Text returns the current text of room.
func (r *Rooms) Text(ctx context.Context, room domain.RoomID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hub, ok := r.hubs[room]; ok {
		return hub.Text(), nil
	}
	hub, err := loadHub(ctx, room, r.store, r.metrics)
	if err != nil {
		return "", err
	}
	return hub.Text(), nil
}

func (r *Rooms) Loaded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}

func (r *Rooms) hubLocked(ctx context.Context, room domain.RoomID) (*Hub, error) {
	if hub, ok := r.hubs[room]; ok {
		return hub, nil
	}
	hub, err := loadHub(ctx, room, r.store, r.metrics)
	if err != nil {
		return nil, err
	}
	r.hubs[room] = hub
	r.metrics.rooms.Inc()
	pslog.Ctx(ctx).Info("room loaded", "room", room)
	return hub, nil
}

func (r *Rooms) evictLocked(ctx context.Context, hub *Hub) {
	hub.mu.Lock()
	idle := hub.idle()
	hub.mu.Unlock()
	if !idle || r.hubs[hub.room] != hub {
		return
	}
	delete(r.hubs, hub.room)
	hub.doc.Destroy()
	r.metrics.rooms.Dec()
	pslog.Ctx(ctx).Info("room evicted", "room", hub.room)
}
