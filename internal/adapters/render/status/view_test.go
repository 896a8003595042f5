package status

import (
	"errors"
	"testing"
	"time"

	"github.com/bnema/cocode-cli/internal/application"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderRoomsPage(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	output, err := RenderRooms(domain.RoomPage{
		Items: []domain.RoomSummary{
			{RoomID: "r-new", FirstMessage: "add a button", FirstMessageTimestamp: now.Add(-3 * time.Hour), MessageCount: 2},
			{RoomID: "r-old", FirstMessage: "sketch the layout", FirstMessageTimestamp: now.Add(-49 * time.Hour), MessageCount: 1},
		},
		Total:      12,
		Page:       1,
		PageSize:   10,
		TotalPages: 2,
	}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "page 1 of 2, 12 rooms")
	assert.Contains(t, output, "r-new")
	assert.Contains(t, output, "3 hours ago")
	assert.Contains(t, output, "add a button")
	assert.Contains(t, output, "2 messages")
	assert.Contains(t, output, "r-old")
	assert.Contains(t, output, "2 days ago")
	assert.Contains(t, output, "1 message")
}

func TestRenderRoomsEmpty(t *testing.T) {
	output, err := RenderRooms(domain.RoomPage{Page: 1, PageSize: 10}, RenderOptions{})

	require.NoError(t, err)
	assert.Contains(t, output, "page 1 of 1, 0 rooms")
	assert.Contains(t, output, "No rooms yet.")
}

func TestRenderConnection(t *testing.T) {
	tests := []struct {
		name    string
		state   domain.ConnectionState
		want    []string
		notWant []string
	}{
		{
			name:  "synced",
			state: domain.ConnectionState{Status: domain.StatusConnected, IsSynced: true, Users: 3},
			want:  []string{"room r1", "connected", "[synced]", "3 users"},
		},
		{
			name:  "syncing",
			state: domain.ConnectionState{Status: domain.StatusConnected, Users: 1},
			want:  []string{"connected", "[syncing]", "1 user"},
		},
		{
			name:    "reconnecting",
			state:   domain.ConnectionState{Status: domain.StatusReconnecting},
			want:    []string{"reconnecting", "0 users"},
			notWant: []string{"[synced]", "[syncing]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := RenderConnection("r1", tt.state)
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, output, want)
			}
			for _, notWant := range tt.notWant {
				assert.NotContains(t, output, notWant)
			}
		})
	}
}

func TestRenderTaskOutcomes(t *testing.T) {
	tests := []struct {
		name string
		snap application.TaskSnapshot
		want string
	}{
		{
			name: "completed",
			snap: application.TaskSnapshot{Phase: domain.PhaseCompleted, Room: "r1", TaskID: "task-1"},
			want: "Completed!",
		},
		{
			name: "failed with classified error",
			snap: application.TaskSnapshot{Phase: domain.PhaseFailed, Err: &domain.APIError{Kind: domain.ErrTimeout}},
			want: "Request timed out. Please try again.",
		},
		{
			name: "failed by backend",
			snap: application.TaskSnapshot{Phase: domain.PhaseFailed, Err: errors.New("agent crashed")},
			want: "agent crashed",
		},
		{
			name: "cancelled",
			snap: application.TaskSnapshot{Phase: domain.PhaseCancelled},
			want: "Cancelled",
		},
		{
			name: "in progress",
			snap: application.TaskSnapshot{Phase: domain.PhaseProcessing, Progress: "Queued..."},
			want: "Queued...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := RenderTask(tt.snap, 1500*time.Millisecond)
			require.NoError(t, err)
			assert.Contains(t, output, tt.want)
			assert.Contains(t, output, "took 1.5s")
		})
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	assert.Equal(t, "unknown", formatAge(time.Time{}, now))
	assert.Equal(t, "just now", formatAge(now.Add(-10*time.Second), now))
	assert.Equal(t, "1 minute ago", formatAge(now.Add(-time.Minute), now))
	assert.Equal(t, "5 minutes ago", formatAge(now.Add(-5*time.Minute), now))
	assert.Equal(t, "1 hour ago", formatAge(now.Add(-90*time.Minute), now))
	assert.Equal(t, "1 day ago", formatAge(now.Add(-30*time.Hour), now))
	assert.Equal(t, "2026-02-14T10:00:00Z", formatAge(now.Add(-time.Hour), time.Time{}))
}

func TestAgeColorFadesWithAge(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	assert.Equal(t, lipgloss.Color("255"), ageColor(now, now))
	assert.Equal(t, lipgloss.Color("240"), ageColor(now.Add(-8*24*time.Hour), now))
	assert.Equal(t, lipgloss.Color("255"), ageColor(now, time.Time{}))
}

func TestRenderDocument(t *testing.T) {
	output, err := RenderDocument("hello\nworld\n", []domain.RemoteCursor{
		{ClientID: "c2", Name: "Grace", Color: "#ff8800", Selection: domain.Caret(5)},
	})
	require.NoError(t, err)
	assert.Contains(t, output, "Document")
	assert.Contains(t, output, "hello")
	assert.Contains(t, output, "world")
	assert.Contains(t, output, "Grace")
	assert.Contains(t, output, "at 5")

	output, err = RenderDocument("", nil)
	require.NoError(t, err)
	assert.Contains(t, output, "(empty document)")
}
