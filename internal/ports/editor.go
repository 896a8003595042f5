package ports

import "github.com/bnema/cocode-cli/internal/domain"

// EditorSurface is a local editable widget. Model returns nil when the
// surface has no addressable content model yet.
type EditorSurface interface {
	Model() TextModel
}

// TextModel is the content of an editor surface. Offsets count runes.
// ApplyEdits is a programmatic change and must not be reported to OnChange
// subscribers.
type TextModel interface {
	Text() string
	ApplyEdits(edits []domain.TextEdit)
	Selection() domain.Selection
	SetSelection(sel domain.Selection)
	OnChange(fn func(edit domain.TextEdit)) (unsubscribe func())
	OnSelectionChange(fn func(sel domain.Selection)) (unsubscribe func())
	SetRemoteCursors(cursors []domain.RemoteCursor)
}
