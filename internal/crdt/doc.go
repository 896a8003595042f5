// Package crdt implements a replicated growable array (RGA) text type.
//
// Replicas converge because every rune carries a unique ID and a Lamport
// timestamp, and concurrent inserts after the same origin are ordered by
// descending (lamport, client). Deletes leave tombstones, so operations
// commute and re-applying one is a no-op.
package crdt

import (
	"fmt"
	"sync"

	"github.com/bnema/cocode-cli/internal/domain"
)

type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginLocal {
		return "local"
	}
	return "remote"
}

// Change describes what one local edit or one Apply did to a text.
type Change struct {
	Origin Origin
	Text   string
	Edits  []domain.TextEdit
	Update Update
}

type Doc struct {
	mu        sync.Mutex
	client    string
	nextSeq   uint64
	lamport   uint64
	texts     map[string]*Text
	log       map[string]map[uint64]Op
	sv        StateVector
	seen      map[ID]struct{}
	pending   []Op
	observers map[int]func(Change)
	nextObs   int
	destroyed bool
}

func NewDoc(clientID domain.ClientID) *Doc {
	return &Doc{
		client:    string(clientID),
		texts:     map[string]*Text{},
		log:       map[string]map[uint64]Op{},
		sv:        StateVector{},
		seen:      map[ID]struct{}{},
		observers: map[int]func(Change){},
	}
}

func (d *Doc) ClientID() domain.ClientID {
	return domain.ClientID(d.client)
}

// Text returns the named text, creating it on first use.
func (d *Doc) Text(name string) *Text {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textLocked(name)
}

func (d *Doc) textLocked(name string) *Text {
	t, ok := d.texts[name]
	if !ok {
		t = &Text{doc: d, name: name, index: map[ID]*item{}}
		if d.texts != nil {
			d.texts[name] = t
		}
	}
	return t
}

// Observe registers fn for every change. fn runs on the goroutine that made
// the change, after the document lock is released.
func (d *Doc) Observe(fn func(Change)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return func() {}
	}
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sv.Clone()
}

// Diff returns the integrated operations not covered by sv. A nil sv yields
// the full document history.
func (d *Doc) Diff(sv StateVector) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ops []Op
	for _, byClient := range d.log {
		for _, op := range byClient {
			if sv != nil && sv.Covers(op) {
				continue
			}
			ops = append(ops, op)
		}
	}
	sortOps(ops)
	return Update{Ops: ops}
}

// Pending reports how many received operations wait for missing
// dependencies.
func (d *Doc) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Apply merges a remote update. It returns the operations integrated by
// this call, which may include earlier buffered ones whose dependencies
// arrived. Unknown dependencies are buffered, duplicates are ignored.
func (d *Doc) Apply(update Update) (Update, error) {
	for _, op := range update.Ops {
		if err := op.validate(); err != nil {
			return Update{}, err
		}
	}

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return Update{}, ErrDestroyed
	}

	for _, op := range update.Ops {
		if _, dup := d.seen[op.ID]; dup {
			continue
		}
		d.seen[op.ID] = struct{}{}
		d.pending = append(d.pending, op)
	}

	var applied []Op
	changes := map[string]*Change{}
	var order []string
	for progress := true; progress; {
		progress = false
		remaining := d.pending[:0]
		for _, op := range d.pending {
			t := d.textLocked(op.Text)
			if !t.ready(op) {
				remaining = append(remaining, op)
				continue
			}
			edits := t.integrate(op)
			d.record(op)
			applied = append(applied, op)
			progress = true

			ch, ok := changes[op.Text]
			if !ok {
				ch = &Change{Origin: OriginRemote, Text: op.Text}
				changes[op.Text] = ch
				order = append(order, op.Text)
			}
			ch.Edits = appendEdits(ch.Edits, edits...)
			ch.Update.Ops = append(ch.Update.Ops, op)
		}
		d.pending = remaining
	}
	observers := d.observerList()
	d.mu.Unlock()

	for _, name := range order {
		notify(observers, *changes[name])
	}
	return Update{Ops: applied}, nil
}

// Destroy releases the document. Later edits fail with ErrDestroyed.
func (d *Doc) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.observers = map[int]func(Change){}
	d.texts = nil
	d.log = map[string]map[uint64]Op{}
	d.pending = nil
}

func (d *Doc) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *Doc) record(op Op) {
	byClient, ok := d.log[op.ID.Client]
	if !ok {
		byClient = map[uint64]Op{}
		d.log[op.ID.Client] = byClient
	}
	byClient[op.ID.Seq] = op

	for {
		next, ok := byClient[d.sv[op.ID.Client]]
		if !ok {
			break
		}
		d.sv[op.ID.Client] += next.Span()
	}

	if end := op.Lamport + op.Span() - 1; end > d.lamport {
		d.lamport = end
	}
}

// local builds, integrates and records an op produced by this replica.
func (d *Doc) local(t *Text, build func(seq, lamport uint64) (Op, error)) (Change, error) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return Change{}, ErrDestroyed
	}
	op, err := build(d.nextSeq, d.lamport+1)
	if err != nil {
		d.mu.Unlock()
		return Change{}, err
	}
	if err := op.validate(); err != nil {
		d.mu.Unlock()
		return Change{}, err
	}
	d.nextSeq += op.Span()
	d.seen[op.ID] = struct{}{}
	edits := t.integrate(op)
	d.record(op)
	observers := d.observerList()
	d.mu.Unlock()

	change := Change{
		Origin: OriginLocal,
		Text:   t.name,
		Edits:  appendEdits(nil, edits...),
		Update: Update{Ops: []Op{op}},
	}
	notify(observers, change)
	return change, nil
}

func (d *Doc) observerList() []func(Change) {
	out := make([]func(Change), 0, len(d.observers))
	for i := 0; i < d.nextObs; i++ {
		if fn, ok := d.observers[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(observers []func(Change), change Change) {
	for _, fn := range observers {
		fn(change)
	}
}

// appendEdits coalesces consecutive single-rune edits into runs.
func appendEdits(dst []domain.TextEdit, edits ...domain.TextEdit) []domain.TextEdit {
	for _, e := range edits {
		if n := len(dst); n > 0 {
			last := &dst[n-1]
			switch {
			case e.Delete == 0 && last.Delete == 0 && e.Offset == last.Offset+last.InsertLen():
				last.Insert += e.Insert
				continue
			case e.Insert == "" && last.Insert == "" && e.Offset == last.Offset:
				last.Delete += e.Delete
				continue
			}
		}
		dst = append(dst, e)
	}
	return dst
}

func (d *Doc) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("crdt.Doc{client=%s texts=%d pending=%d}", d.client, len(d.texts), len(d.pending))
}
