package ports

import (
	"context"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/protocol"
)

type TransportEventKind int

const (
	TransportConnected TransportEventKind = iota + 1
	TransportMessage
	TransportDisconnected
	TransportAuthFailed
	TransportError
)

func (k TransportEventKind) String() string {
	switch k {
	case TransportConnected:
		return "connected"
	case TransportMessage:
		return "message"
	case TransportDisconnected:
		return "disconnected"
	case TransportAuthFailed:
		return "auth_failed"
	case TransportError:
		return "error"
	default:
		return "unknown"
	}
}

type TransportEvent struct {
	Kind    TransportEventKind
	Message protocol.Message
	Err     error
}

// SyncTransport opens one sync connection per room. Open must not block on
// the network: the outcome of the handshake arrives as the first event.
type SyncTransport interface {
	Open(ctx context.Context, room domain.RoomID) (SyncConn, error)
}

// SyncConn is a live sync connection. Events is closed after the final
// Disconnected, AuthFailed or Error event. Close is safe to call more than
// once.
type SyncConn interface {
	Events() <-chan TransportEvent
	Send(msg protocol.Message) error
	Close() error
}
