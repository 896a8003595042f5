package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from ConnectionStatus
		to   ConnectionStatus
		want bool
	}{
		{from: StatusConnecting, to: StatusConnected, want: true},
		{from: StatusConnecting, to: StatusError, want: true},
		{from: StatusConnected, to: StatusReconnecting, want: true},
		{from: StatusDisconnected, to: StatusReconnecting, want: true},
		{from: StatusReconnecting, to: StatusConnecting, want: true},
		{from: StatusError, to: StatusConnecting, want: true},
		{from: StatusError, to: StatusConnected, want: false},
		{from: StatusDisconnected, to: StatusConnected, want: false},
		{from: StatusReconnecting, to: StatusConnected, want: false},
		{from: StatusConnected, to: StatusConnecting, want: false},
		{from: StatusConnected, to: StatusConnected, want: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestConnectionStateReady(t *testing.T) {
	t.Parallel()

	assert.True(t, ConnectionState{Status: StatusConnected, IsSynced: true}.Ready())
	assert.False(t, ConnectionState{Status: StatusConnected}.Ready())
	assert.False(t, ConnectionState{Status: StatusReconnecting, IsSynced: true}.Ready())
}

func TestTaskStatusAdvancesForwardOnly(t *testing.T) {
	t.Parallel()

	assert.True(t, TaskPending.CanAdvance(TaskProcessing))
	assert.True(t, TaskPending.CanAdvance(TaskCompleted))
	assert.True(t, TaskProcessing.CanAdvance(TaskFailed))
	assert.False(t, TaskProcessing.CanAdvance(TaskPending))
	assert.False(t, TaskProcessing.CanAdvance(TaskProcessing))
	assert.False(t, TaskCompleted.CanAdvance(TaskFailed))
	assert.False(t, TaskPending.CanAdvance(TaskStatus("archived")))
}

func TestTaskStatusPhrase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status TaskStatus
		want   string
	}{
		{status: TaskPending, want: "Queued..."},
		{status: TaskProcessing, want: "Processing your request..."},
		{status: TaskCompleted, want: "Completed!"},
		{status: TaskFailed, want: "Failed"},
		{status: TaskStatus("other"), want: "other"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Phrase())
		})
	}
}

func TestAgentModeMapsToAgentName(t *testing.T) {
	t.Parallel()

	mode, err := ParseAgentMode(" Parallel ")
	require.NoError(t, err)
	assert.Equal(t, AgentOutliner, mode.AgentName())

	mode, err = ParseAgentMode("sequential")
	require.NoError(t, err)
	assert.Equal(t, AgentSequential, mode.AgentName())

	_, err = ParseAgentMode("swarm")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSelectionTransform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sel  Selection
		edit TextEdit
		want Selection
	}{
		{name: "insert after caret keeps caret", sel: Caret(2), edit: TextEdit{Offset: 5, Insert: "abc"}, want: Caret(2)},
		{name: "insert before caret shifts caret", sel: Caret(4), edit: TextEdit{Offset: 1, Insert: "abc"}, want: Caret(7)},
		{name: "insert at caret keeps caret", sel: Caret(4), edit: TextEdit{Offset: 4, Insert: "x"}, want: Caret(4)},
		{name: "delete before caret shifts back", sel: Caret(6), edit: TextEdit{Offset: 1, Delete: 2}, want: Caret(4)},
		{name: "delete spanning caret collapses", sel: Caret(3), edit: TextEdit{Offset: 1, Delete: 4}, want: Caret(1)},
		{name: "delete after caret keeps caret", sel: Caret(1), edit: TextEdit{Offset: 1, Delete: 4}, want: Caret(1)},
		{name: "multibyte insert counts runes", sel: Caret(3), edit: TextEdit{Offset: 0, Insert: "héé"}, want: Caret(6)},
		{
			name: "selection around replaced text",
			sel:  Selection{Anchor: 2, Head: 8},
			edit: TextEdit{Offset: 4, Delete: 2, Insert: "xyz"},
			want: Selection{Anchor: 2, Head: 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sel.Transform(tt.edit))
		})
	}
}

func TestPageRequestDefaultsAndValidation(t *testing.T) {
	t.Parallel()

	req := PageRequest{}.WithDefaults()
	assert.Equal(t, PageRequest{Page: 1, PageSize: 10}, req)
	require.NoError(t, req.Validate())
	assert.Equal(t, 0, req.Offset())

	assert.ErrorIs(t, PageRequest{Page: 0, PageSize: 10}.Validate(), ErrValidation)
	assert.ErrorIs(t, PageRequest{Page: 1, PageSize: 101}.Validate(), ErrValidation)
	assert.Equal(t, 20, PageRequest{Page: 3, PageSize: 10}.Offset())

	assert.Equal(t, 0, TotalPages(0, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 2, TotalPages(11, 10))
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "héll", TruncateRunes("héllo", 4))
	assert.Equal(t, "hi", TruncateRunes("hi", 100))
	assert.Equal(t, "", TruncateRunes("hi", 0))
}

func TestColorForIsStableHex(t *testing.T) {
	t.Parallel()

	color := ColorFor("client-a")
	assert.Regexp(t, `^#[0-9a-f]{6}$`, color)
	assert.Equal(t, color, ColorFor("client-a"))
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	unauthorized := &APIError{Kind: ErrUnauthorized, StatusCode: 401, RequestID: "req-1"}
	assert.ErrorIs(t, unauthorized, ErrUnauthorized)
	assert.True(t, IsFatal(unauthorized))
	assert.Contains(t, unauthorized.Error(), "status 401")
	assert.Contains(t, unauthorized.Error(), "req-1")

	wrapped := fmt.Errorf("get task: %w", &APIError{Kind: ErrServer, StatusCode: 503})
	assert.False(t, IsFatal(wrapped))
	assert.Equal(t, "Server error. Please try again later.", UserMessage(wrapped))

	assert.True(t, IsFatal(fmt.Errorf("submit: %w", ErrValidation)))
	assert.True(t, IsFatal(fmt.Errorf("get task: %w", &APIError{Kind: ErrNotFound, StatusCode: 404})))
	assert.False(t, IsFatal(ErrNetwork))
	assert.False(t, IsFatal(ErrTimeout))

	assert.Equal(t, "Request was cancelled.", UserMessage(context.Canceled))
	assert.Equal(t, "Request timed out. Please try again.", UserMessage(ErrTimeout))
	assert.Equal(t, "Network error. Please check your connection.", UserMessage(ErrNetwork))
	assert.Equal(t, "Authentication required. Please log in.", UserMessage(unauthorized))
	assert.Equal(t, "Invalid prompt. Please check your input.", UserMessage(ErrValidation))
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
	assert.Equal(t, "", UserMessage(nil))
}

func TestSyncURLFromAPIBaseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{name: "http", base: "http://localhost:3001", want: "ws://localhost:3001/crdt"},
		{name: "https with slash", base: "https://collab.example.com/", want: "wss://collab.example.com/crdt"},
		{name: "path prefix", base: "https://example.com/app", want: "wss://example.com/app/crdt"},
		{name: "bad scheme", base: "ftp://example.com", wantErr: true},
		{name: "no host", base: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SyncURL(tt.base)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
