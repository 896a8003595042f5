// Package presence keeps the ephemeral per-client awareness state of a room.
package presence

import (
	"sort"
	"sync"

	"github.com/bnema/cocode-cli/internal/domain"
)

// Directory holds one entry per connected client. Each entry is owned by its
// client: the local entry only changes through SetLocal, and remote entries
// only move forward in clock.
type Directory struct {
	mu      sync.RWMutex
	local   domain.ClientID
	entries map[domain.ClientID]domain.PresenceEntry
}

func NewDirectory(local domain.ClientID) *Directory {
	return &Directory{
		local:   local,
		entries: map[domain.ClientID]domain.PresenceEntry{},
	}
}

func (d *Directory) LocalID() domain.ClientID {
	return d.local
}

// SetLocal replaces the local entry and returns it with its new clock.
func (d *Directory) SetLocal(user domain.PresenceUser, cursor *domain.Selection) domain.PresenceEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.entries[d.local]
	entry := domain.PresenceEntry{
		ClientID: d.local,
		User:     user,
		Cursor:   cursor,
		Clock:    prev.Clock + 1,
	}
	d.entries[d.local] = entry
	return entry
}

// SetLocalCursor updates only the cursor of the local entry.
func (d *Directory) SetLocalCursor(cursor *domain.Selection) (domain.PresenceEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[d.local]
	if !ok {
		return domain.PresenceEntry{}, false
	}
	entry.Cursor = cursor
	entry.Clock++
	d.entries[d.local] = entry
	return entry, true
}

func (d *Directory) Local() (domain.PresenceEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[d.local]
	return entry, ok
}

// ApplyRemote merges entries received from peers and reports whether
// anything changed. Entries claiming the local client id are ignored.
func (d *Directory) ApplyRemote(entries []domain.PresenceEntry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := false
	for _, entry := range entries {
		if entry.ClientID == "" || entry.ClientID == d.local {
			continue
		}
		if current, ok := d.entries[entry.ClientID]; ok && current.Clock >= entry.Clock {
			continue
		}
		d.entries[entry.ClientID] = entry
		changed = true
	}
	return changed
}

// Remove drops remote entries. The local entry cannot be removed this way.
func (d *Directory) Remove(ids ...domain.ClientID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := false
	for _, id := range ids {
		if id == d.local {
			continue
		}
		if _, ok := d.entries[id]; ok {
			delete(d.entries, id)
			changed = true
		}
	}
	return changed
}

// ClearRemote drops every remote entry and keeps the local one.
func (d *Directory) ClearRemote() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.entries {
		if id != d.local {
			delete(d.entries, id)
		}
	}
}

func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = map[domain.ClientID]domain.PresenceEntry{}
}

func (d *Directory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Entries returns all entries ordered by client id.
func (d *Directory) Entries() []domain.PresenceEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sorted(false)
}

// Remote returns the entries of every client except the local one.
func (d *Directory) Remote() []domain.PresenceEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sorted(true)
}

func (d *Directory) sorted(skipLocal bool) []domain.PresenceEntry {
	out := make([]domain.PresenceEntry, 0, len(d.entries))
	for id, entry := range d.entries {
		if skipLocal && id == d.local {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}
