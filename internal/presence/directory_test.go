package presence

import (
	"testing"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLocalIncrementsClock(t *testing.T) {
	t.Parallel()

	dir := NewDirectory("me")
	first := dir.SetLocal(domain.PresenceUser{ID: "me", Name: "Ada"}, nil)
	second := dir.SetLocal(domain.PresenceUser{ID: "me", Name: "Ada L."}, nil)

	assert.Equal(t, uint64(1), first.Clock)
	assert.Equal(t, uint64(2), second.Clock)
	assert.Equal(t, 1, dir.Size())

	local, ok := dir.Local()
	require.True(t, ok)
	assert.Equal(t, "Ada L.", local.User.Name)

	cursor := domain.Caret(3)
	updated, ok := dir.SetLocalCursor(&cursor)
	require.True(t, ok)
	assert.Equal(t, uint64(3), updated.Clock)
	assert.Equal(t, &cursor, updated.Cursor)
}

func TestApplyRemoteIsLastWriteWinsPerClient(t *testing.T) {
	t.Parallel()

	dir := NewDirectory("me")
	changed := dir.ApplyRemote([]domain.PresenceEntry{
		{ClientID: "peer", User: domain.PresenceUser{Name: "v2"}, Clock: 2},
	})
	assert.True(t, changed)

	changed = dir.ApplyRemote([]domain.PresenceEntry{
		{ClientID: "peer", User: domain.PresenceUser{Name: "v1"}, Clock: 1},
	})
	assert.False(t, changed)

	changed = dir.ApplyRemote([]domain.PresenceEntry{
		{ClientID: "peer", User: domain.PresenceUser{Name: "v3"}, Clock: 3},
	})
	assert.True(t, changed)

	remote := dir.Remote()
	require.Len(t, remote, 1)
	assert.Equal(t, "v3", remote[0].User.Name)
}

func TestApplyRemoteCannotOverwriteLocalEntry(t *testing.T) {
	t.Parallel()

	dir := NewDirectory("me")
	dir.SetLocal(domain.PresenceUser{Name: "mine"}, nil)

	changed := dir.ApplyRemote([]domain.PresenceEntry{
		{ClientID: "me", User: domain.PresenceUser{Name: "forged"}, Clock: 99},
	})
	assert.False(t, changed)

	local, ok := dir.Local()
	require.True(t, ok)
	assert.Equal(t, "mine", local.User.Name)
	assert.False(t, dir.Remove("me"))
}

func TestRemoveAndReset(t *testing.T) {
	t.Parallel()

	dir := NewDirectory("me")
	dir.SetLocal(domain.PresenceUser{Name: "mine"}, nil)
	dir.ApplyRemote([]domain.PresenceEntry{
		{ClientID: "b", Clock: 1},
		{ClientID: "a", Clock: 1},
	})
	assert.Equal(t, 3, dir.Size())

	entries := dir.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, domain.ClientID("a"), entries[0].ClientID)

	assert.True(t, dir.Remove("a"))
	assert.False(t, dir.Remove("a"))
	assert.Equal(t, 2, dir.Size())

	dir.ClearRemote()
	assert.Equal(t, 1, dir.Size())

	dir.Reset()
	assert.Equal(t, 0, dir.Size())
	_, ok := dir.Local()
	assert.False(t, ok)
}
