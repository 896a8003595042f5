package domain

// TextEdit replaces Delete runes at Offset with Insert. Offsets count runes.
type TextEdit struct {
	Offset int
	Delete int
	Insert string
}

func (e TextEdit) InsertLen() int {
	return len([]rune(e.Insert))
}

func (e TextEdit) Empty() bool {
	return e.Delete == 0 && e.Insert == ""
}

type Selection struct {
	Anchor int
	Head   int
}

func Caret(pos int) Selection {
	return Selection{Anchor: pos, Head: pos}
}

func (s Selection) Collapsed() bool {
	return s.Anchor == s.Head
}

// Transform moves the selection through an edit made elsewhere. Positions
// before the edit are untouched, positions after it shift by the edit's
// length delta, and positions inside a deleted range collapse to its start.
// An insertion exactly at a position does not move it.
func (s Selection) Transform(e TextEdit) Selection {
	return Selection{
		Anchor: transformPos(s.Anchor, e),
		Head:   transformPos(s.Head, e),
	}
}

func transformPos(pos int, e TextEdit) int {
	if e.Delete > 0 {
		switch {
		case pos >= e.Offset+e.Delete:
			pos -= e.Delete
		case pos > e.Offset:
			pos = e.Offset
		}
	}
	if n := e.InsertLen(); n > 0 && e.Offset < pos {
		pos += n
	}
	return pos
}
