// Package protocol defines the messages exchanged on a room's sync socket.
package protocol

import (
	"errors"
	"fmt"

	"github.com/bnema/cocode-cli/internal/codec"
	"github.com/bnema/cocode-cli/internal/crdt"
	"github.com/bnema/cocode-cli/internal/domain"
)

var ErrUnknownType = errors.New("unknown message type")

type Type uint8

const (
	// TypeSyncStep1 carries the sender's state vector and asks for what it lacks.
	TypeSyncStep1 Type = iota + 1
	// TypeSyncStep2 answers a SyncStep1 with the missing operations.
	TypeSyncStep2
	TypeUpdate
	TypeAck
	TypeAwareness
)

func (t Type) String() string {
	switch t {
	case TypeSyncStep1:
		return "sync_step1"
	case TypeSyncStep2:
		return "sync_step2"
	case TypeUpdate:
		return "update"
	case TypeAck:
		return "ack"
	case TypeAwareness:
		return "awareness"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

type Message struct {
	Type        Type                   `cbor:"t"`
	ID          uint64                 `cbor:"i,omitempty"`
	StateVector crdt.StateVector       `cbor:"sv,omitempty"`
	Update      crdt.Update            `cbor:"u"`
	Presence    []domain.PresenceEntry `cbor:"p,omitempty"`
	Removed     []domain.ClientID      `cbor:"r,omitempty"`
}

func SyncStep1(sv crdt.StateVector) Message {
	return Message{Type: TypeSyncStep1, StateVector: sv}
}

func SyncStep2(id uint64, update crdt.Update) Message {
	return Message{Type: TypeSyncStep2, ID: id, Update: update}
}

func Update(id uint64, update crdt.Update) Message {
	return Message{Type: TypeUpdate, ID: id, Update: update}
}

func Ack(id uint64) Message {
	return Message{Type: TypeAck, ID: id}
}

func Awareness(entries []domain.PresenceEntry, removed []domain.ClientID) Message {
	return Message{Type: TypeAwareness, Presence: entries, Removed: removed}
}

func Encode(msg Message) ([]byte, error) {
	if msg.Type < TypeSyncStep1 || msg.Type > TypeAwareness {
		return nil, fmt.Errorf("encode message: %w: %d", ErrUnknownType, msg.Type)
	}
	data, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return data, nil
}

func Decode(data []byte) (Message, error) {
	var msg Message
	if err := codec.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type < TypeSyncStep1 || msg.Type > TypeAwareness {
		return Message{}, fmt.Errorf("decode message: %w: %d", ErrUnknownType, msg.Type)
	}
	return msg, nil
}
