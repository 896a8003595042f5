package domain

import (
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
)

type ClientID string

func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// PresenceUser is the single local field a client announces on connect.
type PresenceUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type PresenceEntry struct {
	ClientID ClientID
	User     PresenceUser
	Cursor   *Selection
	Clock    uint64
}

// ColorFor derives a stable "#rrggbb" color from a seed, so a client keeps
// its color for the lifetime of its id.
func ColorFor(seed string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return fmt.Sprintf("#%06x", h.Sum32()&0xffffff)
}

// RemoteCursor is a peer's selection as drawn on the local surface.
type RemoteCursor struct {
	ClientID  ClientID
	Name      string
	Color     string
	Selection Selection
}
