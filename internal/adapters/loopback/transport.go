// Package loopback connects sync clients straight to an in-process relay,
// encoding every message the way the websocket transport does.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/bnema/cocode-cli/internal/protocol"
	"github.com/bnema/cocode-cli/internal/relay"
	"pkt.systems/pslog"
)

const queueSize = 1024

var (
	ErrClosed    = errors.New("loopback connection closed")
	ErrQueueFull = errors.New("loopback send queue full")
)

type Transport struct {
	rooms *relay.Rooms

	mu    sync.Mutex
	conns map[*conn]struct{}
}

var _ ports.SyncTransport = (*Transport)(nil)

func NewTransport(rooms *relay.Rooms) *Transport {
	return &Transport{
		rooms: rooms,
		conns: map[*conn]struct{}{},
	}
}

func (t *Transport) Open(ctx context.Context, room domain.RoomID) (ports.SyncConn, error) {
	if err := room.Validate(); err != nil {
		return nil, fmt.Errorf("open loopback: %w", err)
	}
	c := &conn{
		events:  make(chan ports.TransportEvent, queueSize),
		in:      make(chan []byte, queueSize),
		closing: make(chan struct{}),
		log:     pslog.Ctx(ctx).With("room", room, "transport", "loopback"),
	}
	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()

	go func() {
		c.run(ctx, t.rooms, room)
		t.mu.Lock()
		delete(t.conns, c)
		t.mu.Unlock()
	}()
	return c, nil
}

// Conns reports how many connections are open.
func (t *Transport) Conns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// DropAll kicks every open connection from its room, as a relay restart
// would.
func (t *Transport) DropAll() {
	t.mu.Lock()
	conns := make([]*conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.drop()
	}
}

type conn struct {
	events  chan ports.TransportEvent
	in      chan []byte
	closing chan struct{}
	once    sync.Once
	log     pslog.Logger

	mu     sync.Mutex
	member *relay.Member
}

func (c *conn) Events() <-chan ports.TransportEvent {
	return c.events
}

func (c *conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.in <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *conn) Close() error {
	c.once.Do(func() { close(c.closing) })
	return nil
}

func (c *conn) drop() {
	c.mu.Lock()
	m := c.member
	c.mu.Unlock()
	if m != nil {
		m.Kick()
	}
}

func (c *conn) emit(ev ports.TransportEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closing:
		return false
	}
}

func (c *conn) run(ctx context.Context, rooms *relay.Rooms, room domain.RoomID) {
	defer close(c.events)

	hub, m, err := rooms.Join(ctx, room)
	if err != nil {
		c.emit(ports.TransportEvent{Kind: ports.TransportError, Err: err})
		return
	}
	c.mu.Lock()
	c.member = m
	c.mu.Unlock()
	defer rooms.Leave(ctx, hub, m)

	if !c.emit(ports.TransportEvent{Kind: ports.TransportConnected}) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closing:
			return
		case <-m.Done():
			c.emit(ports.TransportEvent{Kind: ports.TransportDisconnected})
			return
		case data := <-c.in:
			msg, err := protocol.Decode(data)
			if err != nil {
				c.log.Warn("drop undecodable message", "err", err)
				continue
			}
			hub.Handle(ctx, m, msg)
		case out := <-m.Outbound():
			data, err := protocol.Encode(out)
			if err != nil {
				c.log.Warn("drop unencodable message", "type", out.Type, "err", err)
				continue
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				c.log.Warn("drop undecodable message", "err", err)
				continue
			}
			if !c.emit(ports.TransportEvent{Kind: ports.TransportMessage, Message: msg}) {
				return
			}
		}
	}
}
