package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/cocode-cli/internal/crdt"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
)

// Annotator is the bundled demo agent. It waits, then prepends a comment
// line naming the prompt to the room document, so every connected editor
// sees the result arrive as a remote edit.
type Annotator struct {
	rooms *Rooms
	delay time.Duration
	clock ports.Clock
}

func NewAnnotator(rooms *Rooms, delay time.Duration, clock ports.Clock) *Annotator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Annotator{rooms: rooms, delay: delay, clock: clock}
}

func (a *Annotator) Run(ctx context.Context, task domain.Task) (string, error) {
	if a.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-a.clock.After(a.delay):
		}
	}

	line := Annotation(task)
	err := a.rooms.Mutate(ctx, task.RoomID, func(text *crdt.Text) error {
		if _, err := text.Insert(0, line); err != nil {
			return fmt.Errorf("insert annotation: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return line, nil
}

// Annotation is the line the demo agent writes for task.
func Annotation(task domain.Task) string {
	prompt := strings.Join(strings.Fields(task.Prompt), " ")
	return fmt.Sprintf("// %s: %s\n", task.AgentName, prompt)
}
