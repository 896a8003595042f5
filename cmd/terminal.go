package cmd

import (
	"sync"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
)

// terminalSurface is the line-oriented editor behind `cocode join`: typed
// lines are appended to the document and remote edits are redrawn whole.
type terminalSurface struct {
	model *terminalModel
}

func newTerminalSurface() *terminalSurface {
	return &terminalSurface{model: &terminalModel{
		changeSubs: map[int]func(domain.TextEdit){},
		selSubs:    map[int]func(domain.Selection){},
		redraw:     make(chan struct{}, 1),
	}}
}

func (s *terminalSurface) Model() ports.TextModel {
	return s.model
}

var _ ports.TextModel = (*terminalModel)(nil)

type terminalModel struct {
	mu         sync.Mutex
	text       []rune
	sel        domain.Selection
	cursors    []domain.RemoteCursor
	nextSub    int
	changeSubs map[int]func(domain.TextEdit)
	selSubs    map[int]func(domain.Selection)
	redraw     chan struct{}
}

func (m *terminalModel) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.text)
}

func (m *terminalModel) ApplyEdits(edits []domain.TextEdit) {
	m.mu.Lock()
	for _, edit := range edits {
		m.applyLocked(edit)
	}
	m.mu.Unlock()
	m.markDirty()
}

func (m *terminalModel) applyLocked(edit domain.TextEdit) {
	offset := min(max(edit.Offset, 0), len(m.text))
	end := min(offset+max(edit.Delete, 0), len(m.text))
	tail := append([]rune{}, m.text[end:]...)
	m.text = append(append(m.text[:offset], []rune(edit.Insert)...), tail...)
}

func (m *terminalModel) Selection() domain.Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sel
}

func (m *terminalModel) SetSelection(sel domain.Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sel = sel
}

func (m *terminalModel) OnChange(fn func(domain.TextEdit)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.changeSubs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.changeSubs, id)
	}
}

func (m *terminalModel) OnSelectionChange(fn func(domain.Selection)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.selSubs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.selSubs, id)
	}
}

func (m *terminalModel) SetRemoteCursors(cursors []domain.RemoteCursor) {
	m.mu.Lock()
	m.cursors = append([]domain.RemoteCursor(nil), cursors...)
	m.mu.Unlock()
	m.markDirty()
}

func (m *terminalModel) Cursors() []domain.RemoteCursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RemoteCursor(nil), m.cursors...)
}

// Append types s at the end of the buffer and leaves the caret after it.
func (m *terminalModel) Append(s string) {
	if s == "" {
		return
	}

	m.mu.Lock()
	edit := domain.TextEdit{Offset: len(m.text), Insert: s}
	m.applyLocked(edit)
	m.sel = domain.Caret(len(m.text))
	sel := m.sel
	changeSubs := make([]func(domain.TextEdit), 0, len(m.changeSubs))
	for _, fn := range m.changeSubs {
		changeSubs = append(changeSubs, fn)
	}
	selSubs := make([]func(domain.Selection), 0, len(m.selSubs))
	for _, fn := range m.selSubs {
		selSubs = append(selSubs, fn)
	}
	m.mu.Unlock()

	for _, fn := range changeSubs {
		fn(edit)
	}
	for _, fn := range selSubs {
		fn(sel)
	}
}

// Redraw fires after remote content or cursors changed.
func (m *terminalModel) Redraw() <-chan struct{} {
	return m.redraw
}

func (m *terminalModel) markDirty() {
	select {
	case m.redraw <- struct{}{}:
	default:
	}
}
