package crdt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bnema/cocode-cli/internal/domain"
)

type item struct {
	id      ID
	lamport uint64
	r       rune
	deleted bool
}

// before reports whether a sorts ahead of a sibling item with the given
// id and lamport.
func (a *item) before(id ID, lamport uint64) bool {
	if a.lamport != lamport {
		return a.lamport > lamport
	}
	return a.id.Client > id.Client
}

// Text is one named sequence inside a Doc. Positions are rune offsets into
// the visible text.
type Text struct {
	doc   *Doc
	name  string
	items []*item
	index map[ID]*item
}

func (t *Text) Name() string {
	return t.name
}

func (t *Text) Insert(pos int, s string) (Change, error) {
	if s == "" {
		return Change{}, nil
	}
	if !utf8.ValidString(s) {
		return Change{}, fmt.Errorf("%w: insert text is not valid UTF-8", ErrInvalidOp)
	}
	return t.doc.local(t, func(seq, lamport uint64) (Op, error) {
		if !t.inRange(pos) {
			return Op{}, fmt.Errorf("%w: insert at %d", ErrOutOfRange, pos)
		}
		return Op{
			Kind:    OpInsert,
			Text:    t.name,
			ID:      ID{Client: t.doc.client, Seq: seq},
			Lamport: lamport,
			Origin:  t.visibleID(pos - 1),
			Content: s,
		}, nil
	})
}

func (t *Text) Delete(pos, n int) (Change, error) {
	if n <= 0 {
		return Change{}, nil
	}
	return t.doc.local(t, func(seq, lamport uint64) (Op, error) {
		if !t.inRange(pos) || !t.inRange(pos+n) {
			return Op{}, fmt.Errorf("%w: delete %d at %d", ErrOutOfRange, n, pos)
		}
		targets := make([]ID, 0, n)
		visible := 0
		for _, it := range t.items {
			if it.deleted {
				continue
			}
			if visible >= pos && visible < pos+n {
				targets = append(targets, it.id)
			}
			visible++
		}
		return Op{
			Kind:    OpDelete,
			Text:    t.name,
			ID:      ID{Client: t.doc.client, Seq: seq},
			Lamport: lamport,
			Targets: targets,
		}, nil
	})
}

// Apply performs a surface edit as a delete followed by an insert.
func (t *Text) Apply(edit domain.TextEdit) error {
	if edit.Offset < 0 || edit.Offset+edit.Delete > t.Len() {
		return fmt.Errorf("%w: edit at %d deleting %d", ErrOutOfRange, edit.Offset, edit.Delete)
	}
	if _, err := t.Delete(edit.Offset, edit.Delete); err != nil {
		return err
	}
	if _, err := t.Insert(edit.Offset, edit.Insert); err != nil {
		return err
	}
	return nil
}

func (t *Text) String() string {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	var b strings.Builder
	for _, it := range t.items {
		if !it.deleted {
			b.WriteRune(it.r)
		}
	}
	return b.String()
}

func (t *Text) Len() int {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	n := 0
	for _, it := range t.items {
		if !it.deleted {
			n++
		}
	}
	return n
}

func (t *Text) inRange(pos int) bool {
	if pos < 0 {
		return false
	}
	visible := 0
	for _, it := range t.items {
		if !it.deleted {
			visible++
		}
	}
	return pos <= visible
}

// visibleID returns the ID of the visible rune at pos, or the zero ID when
// pos is before the start.
func (t *Text) visibleID(pos int) ID {
	if pos < 0 {
		return ID{}
	}
	visible := 0
	for _, it := range t.items {
		if it.deleted {
			continue
		}
		if visible == pos {
			return it.id
		}
		visible++
	}
	return ID{}
}

func (t *Text) ready(op Op) bool {
	switch op.Kind {
	case OpInsert:
		if op.Origin.IsZero() {
			return true
		}
		_, ok := t.index[op.Origin]
		return ok
	case OpDelete:
		for _, target := range op.Targets {
			if _, ok := t.index[target]; !ok {
				return false
			}
		}
		return true
	}
	return false
}

func (t *Text) integrate(op Op) []domain.TextEdit {
	if op.Kind == OpDelete {
		return t.integrateDelete(op)
	}

	edits := make([]domain.TextEdit, 0, utf8.RuneCountInString(op.Content))
	origin := op.Origin
	i := uint64(0)
	for _, r := range op.Content {
		it := &item{
			id:      ID{Client: op.ID.Client, Seq: op.ID.Seq + i},
			lamport: op.Lamport + i,
			r:       r,
		}
		idx := 0
		if !origin.IsZero() {
			idx = t.position(origin) + 1
		}
		for idx < len(t.items) && t.items[idx].before(it.id, it.lamport) {
			idx++
		}
		t.items = append(t.items, nil)
		copy(t.items[idx+1:], t.items[idx:])
		t.items[idx] = it
		t.index[it.id] = it
		edits = append(edits, domain.TextEdit{Offset: t.visibleOffset(idx), Insert: string(r)})
		origin = it.id
		i++
	}
	return edits
}

func (t *Text) integrateDelete(op Op) []domain.TextEdit {
	var edits []domain.TextEdit
	for _, target := range op.Targets {
		it := t.index[target]
		if it == nil || it.deleted {
			continue
		}
		offset := t.visibleOffset(t.position(target))
		it.deleted = true
		edits = append(edits, domain.TextEdit{Offset: offset, Delete: 1})
	}
	return edits
}

func (t *Text) position(id ID) int {
	for i, it := range t.items {
		if it.id == id {
			return i
		}
	}
	return -1
}

func (t *Text) visibleOffset(idx int) int {
	n := 0
	for _, it := range t.items[:idx] {
		if !it.deleted {
			n++
		}
	}
	return n
}
