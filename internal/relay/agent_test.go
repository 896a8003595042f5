package relay

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		task domain.Task
		want string
	}{
		{
			name: "single line",
			task: domain.Task{AgentName: domain.AgentOutliner, Prompt: "add a button"},
			want: "// outliner: add a button\n",
		},
		{
			name: "collapses whitespace",
			task: domain.Task{AgentName: domain.AgentSequential, Prompt: "  fix\nthe\t\tbug "},
			want: "// sequential: fix the bug\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Annotation(tt.task))
		})
	}
}

func TestAnnotatorWritesToRoom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rooms := NewRooms(newTestStore(t), nil)
	result, err := NewAnnotator(rooms, 0, nil).Run(ctx, domain.Task{
		RoomID:    "room-1",
		AgentName: domain.AgentOutliner,
		Prompt:    "add a button",
	})
	require.NoError(t, err)
	assert.Equal(t, "// outliner: add a button\n", result)

	text, err := rooms.Text(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "// outliner: add a button\n", text)
}

type stalledClock struct{}

func (stalledClock) Now() time.Time                       { return time.Time{} }
func (stalledClock) After(time.Duration) <-chan time.Time { return nil }

func TestAnnotatorStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rooms := NewRooms(newTestStore(t), nil)
	_, err := NewAnnotator(rooms, time.Hour, stalledClock{}).Run(ctx, domain.Task{RoomID: "room-1", Prompt: "p"})
	assert.ErrorIs(t, err, context.Canceled)

	text, err := rooms.Text(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Empty(t, text)
}
