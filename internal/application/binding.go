package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/cocode-cli/internal/crdt"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/bnema/cocode-cli/internal/presence"
	"pkt.systems/pslog"
)

// EditorBinding keeps one editor surface and the session document in step.
// It borrows the document and presence directory from the provider and is
// destroyed before either is released.
type EditorBinding struct {
	provider *SyncProvider
	model    ports.TextModel
	text     *crdt.Text
	dir      *presence.Directory
	log      pslog.Logger

	mu        sync.Mutex
	destroyed bool
	unsubs    []func()
	stop      chan struct{}
	done      chan struct{}

	// editMu is held from the liveness check through every write to the
	// surface or the document, so Destroy returns only after the last one.
	editMu sync.Mutex
}

// Bind attaches surface to the provider's live document. Any binding the
// provider already had is destroyed before the new one sees an event.
func Bind(ctx context.Context, provider *SyncProvider, surface ports.EditorSurface) (*EditorBinding, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: no sync provider", domain.ErrBinding)
	}
	if surface == nil {
		return nil, fmt.Errorf("%w: no editor surface", domain.ErrBinding)
	}
	model := surface.Model()
	if model == nil {
		return nil, fmt.Errorf("%w: editor surface has no content model", domain.ErrBinding)
	}

	b := &EditorBinding{
		provider: provider,
		model:    model,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	prev, doc, dir, err := provider.bind(b)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		prev.Destroy()
	}

	b.text = doc.Text(DocumentText)
	b.dir = dir
	b.log = pslog.Ctx(ctx).With("room", provider.Room(), "text", DocumentText)

	b.seed()
	events, unsubscribe := provider.Subscribe(32)
	b.unsubs = append(b.unsubs,
		unsubscribe,
		doc.Observe(b.onDocChange),
		model.OnChange(b.onLocalEdit),
		model.OnSelectionChange(b.onSelection),
	)
	go b.watchPresence(events)
	b.renderCursors()

	b.log.Debug("editor bound")
	return b, nil
}

// Destroy detaches the binding. It is safe to call more than once.
func (b *EditorBinding) Destroy() {
	b.editMu.Lock()
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		b.editMu.Unlock()
		return
	}
	b.destroyed = true
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()
	b.editMu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	close(b.stop)
	<-b.done
	b.provider.unbind(b)
	if b.log != nil {
		b.log.Debug("editor unbound")
	}
}

func (b *EditorBinding) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

func (b *EditorBinding) live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.destroyed
}

func (b *EditorBinding) seed() {
	current := b.model.Text()
	want := b.text.String()
	if current == want {
		return
	}
	b.model.ApplyEdits([]domain.TextEdit{{
		Offset: 0,
		Delete: len([]rune(current)),
		Insert: want,
	}})
	b.model.SetSelection(domain.Caret(0))
}

func (b *EditorBinding) onLocalEdit(edit domain.TextEdit) {
	if edit.Empty() {
		return
	}
	b.editMu.Lock()
	defer b.editMu.Unlock()
	if !b.live() {
		return
	}
	if err := b.text.Apply(edit); err != nil {
		b.log.Warn("apply local edit", "offset", edit.Offset, "err", err)
	}
}

func (b *EditorBinding) onDocChange(change crdt.Change) {
	// Local changes are notified while onLocalEdit holds editMu.
	if change.Origin != crdt.OriginRemote || change.Text != DocumentText || len(change.Edits) == 0 {
		return
	}
	b.editMu.Lock()
	defer b.editMu.Unlock()
	if !b.live() {
		return
	}

	before := b.model.Selection()
	sel := before
	for _, edit := range change.Edits {
		sel = sel.Transform(edit)
	}
	b.model.ApplyEdits(change.Edits)
	b.model.SetSelection(sel)
	if sel != before {
		b.provider.SetLocalCursor(&sel)
	}
}

func (b *EditorBinding) onSelection(sel domain.Selection) {
	if !b.live() {
		return
	}
	b.provider.SetLocalCursor(&sel)
}

func (b *EditorBinding) watchPresence(events <-chan ProviderEvent) {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			return
		case ev := <-events:
			switch ev.Kind {
			case EventPresenceChanged, EventDisconnected, EventError:
				if b.live() {
					b.renderCursors()
				}
			}
		}
	}
}

func (b *EditorBinding) renderCursors() {
	remote := b.dir.Remote()
	cursors := make([]domain.RemoteCursor, 0, len(remote))
	for _, entry := range remote {
		if entry.Cursor == nil {
			continue
		}
		cursors = append(cursors, domain.RemoteCursor{
			ClientID:  entry.ClientID,
			Name:      entry.User.Name,
			Color:     entry.User.Color,
			Selection: *entry.Cursor,
		})
	}
	b.model.SetRemoteCursors(cursors)
}
