// Package websocket is the client sync transport: one websocket per room to
// the relay's sync endpoint, binary CBOR frames.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/bnema/cocode-cli/internal/protocol"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"
)

const queueSize = 256

var (
	ErrClosed    = errors.New("sync connection closed")
	ErrQueueFull = errors.New("sync send queue full")
)

type Config struct {
	// URL is the sync endpoint, e.g. ws://localhost:3001/crdt.
	URL              string
	Tokens           ports.TokenSource
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
}

var _ ports.SyncTransport = (*Transport)(nil)

func NewTransport(cfg Config) *Transport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Tokens == nil {
		cfg.Tokens = ports.StaticToken("")
	}

	return &Transport{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
	}
}

// Open starts dialing in the background. The handshake outcome is the first
// event on the returned connection.
func (t *Transport) Open(ctx context.Context, room domain.RoomID) (ports.SyncConn, error) {
	endpoint, err := roomURL(t.cfg.URL, room)
	if err != nil {
		return nil, err
	}

	c := &conn{
		events:  make(chan ports.TransportEvent, queueSize),
		out:     make(chan []byte, queueSize),
		closing: make(chan struct{}),
		log:     pslog.Ctx(ctx).With("room", room, "transport", "websocket"),
	}
	go c.run(ctx, t, endpoint)
	return c, nil
}

func roomURL(raw string, room domain.RoomID) (string, error) {
	if err := room.Validate(); err != nil {
		return "", fmt.Errorf("sync room: %w", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse sync url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("sync url must use ws or wss, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("sync url host is required")
	}
	query := parsed.Query()
	query.Set("document", string(room))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type conn struct {
	events  chan ports.TransportEvent
	out     chan []byte
	closing chan struct{}
	once    sync.Once
	log     pslog.Logger
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
	case c.out <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *conn) Close() error {
	c.once.Do(func() { close(c.closing) })
	return nil
}

func (c *conn) emit(ev ports.TransportEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closing:
		return false
	}
}

func (c *conn) run(ctx context.Context, t *Transport, endpoint string) {
	defer close(c.events)

	ws, err := c.dial(ctx, t, endpoint)
	if err != nil {
		kind := ports.TransportDisconnected
		if errors.Is(err, domain.ErrUnauthorized) {
			kind = ports.TransportAuthFailed
		}
		c.log.Debug("sync dial failed", "err", err)
		c.emit(ports.TransportEvent{Kind: kind, Err: err})
		return
	}
	defer func() { _ = ws.Close() }()

	if !c.emit(ports.TransportEvent{Kind: ports.TransportConnected}) {
		return
	}

	stop := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(ws, stop)
	}()
	// shutdown ends the reader; no event is emitted after it returns.
	shutdown := func() {
		close(stop)
		_ = ws.Close()
		<-readErr
	}

	for {
		select {
		case <-ctx.Done():
			c.closeFrame(ws, t.cfg.WriteTimeout)
			shutdown()
			return
		case <-c.closing:
			c.closeFrame(ws, t.cfg.WriteTimeout)
			shutdown()
			return
		case err := <-readErr:
			c.emit(closeEvent(err))
			return
		case data := <-c.out:
			_ = ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				shutdown()
				c.emit(ports.TransportEvent{Kind: ports.TransportDisconnected, Err: err})
				return
			}
		}
	}
}

func (c *conn) dial(ctx context.Context, t *Transport, endpoint string) (*websocket.Conn, error) {
	token, err := t.cfg.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync token: %w", err)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := t.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &domain.APIError{
				Kind:       domain.ErrUnauthorized,
				StatusCode: resp.StatusCode,
				RequestID:  resp.Header.Get("x-request-id"),
			}
		}
		return nil, fmt.Errorf("dial %s: %w: %v", endpoint, domain.ErrNetwork, err)
	}
	return ws, nil
}

// readLoop forwards decoded frames until the socket fails.
func (c *conn) readLoop(ws *websocket.Conn, stop <-chan struct{}) error {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("drop undecodable sync message", "err", err)
			continue
		}
		select {
		case c.events <- ports.TransportEvent{Kind: ports.TransportMessage, Message: msg}:
		case <-c.closing:
			return ErrClosed
		case <-stop:
			return ErrClosed
		}
	}
}

func (c *conn) closeFrame(ws *websocket.Conn, timeout time.Duration) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(timeout))
}

// closeEvent classifies how the relay ended the connection. A policy
// violation is reported as an error, everything else as a disconnect.
func closeEvent(err error) ports.TransportEvent {
	if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		return ports.TransportEvent{Kind: ports.TransportError, Err: err}
	}
	return ports.TransportEvent{Kind: ports.TransportDisconnected, Err: err}
}
