package crdt

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

var (
	ErrDestroyed  = errors.New("document destroyed")
	ErrInvalidOp  = errors.New("invalid operation")
	ErrOutOfRange = errors.New("position out of range")
)

// ID names one rune (or one delete) produced by a client. Seq counts the
// client's own operations without gaps, which is what state vectors track.
type ID struct {
	Client string `cbor:"c"`
	Seq    uint64 `cbor:"s"`
}

func (id ID) IsZero() bool {
	return id.Client == "" && id.Seq == 0
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Client, id.Seq)
}

type OpKind uint8

const (
	OpInsert OpKind = 1
	OpDelete OpKind = 2
)

// Op is one replicated operation. An insert of n runes consumes n sequence
// numbers and n Lamport ticks starting at ID.Seq and Lamport; rune i is
// identified by {ID.Client, ID.Seq+i} and follows rune i-1. A delete
// consumes one sequence number and tombstones Targets.
type Op struct {
	Kind    OpKind `cbor:"k"`
	Text    string `cbor:"t"`
	ID      ID     `cbor:"i"`
	Lamport uint64 `cbor:"l"`
	Origin  ID     `cbor:"o"`
	Content string `cbor:"v,omitempty"`
	Targets []ID   `cbor:"d,omitempty"`
}

// Span is the number of sequence numbers the op consumes.
func (o Op) Span() uint64 {
	if o.Kind == OpInsert {
		return uint64(utf8.RuneCountInString(o.Content))
	}
	return 1
}

func (o Op) validate() error {
	if o.ID.Client == "" {
		return fmt.Errorf("%w: missing client", ErrInvalidOp)
	}
	switch o.Kind {
	case OpInsert:
		if o.Content == "" || !utf8.ValidString(o.Content) {
			return fmt.Errorf("%w: insert %s has no valid content", ErrInvalidOp, o.ID)
		}
		if o.Lamport == 0 {
			return fmt.Errorf("%w: insert %s has no lamport clock", ErrInvalidOp, o.ID)
		}
	case OpDelete:
		if len(o.Targets) == 0 {
			return fmt.Errorf("%w: delete %s has no targets", ErrInvalidOp, o.ID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidOp, o.Kind)
	}
	return nil
}

// Update is a batch of operations exchanged between replicas.
type Update struct {
	Ops []Op `cbor:"ops"`
}

func (u Update) Empty() bool {
	return len(u.Ops) == 0
}

// StateVector maps a client to the first sequence number not yet covered
// by contiguously integrated operations from that client.
type StateVector map[string]uint64

func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for client, next := range sv {
		out[client] = next
	}
	return out
}

// Covers reports whether every sequence number of op is already known.
func (sv StateVector) Covers(op Op) bool {
	return op.ID.Seq+op.Span() <= sv[op.ID.Client]
}

func sortOps(ops []Op) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].ID.Client != ops[j].ID.Client {
			return ops[i].ID.Client < ops[j].ID.Client
		}
		return ops[i].ID.Seq < ops[j].ID.Seq
	})
}
