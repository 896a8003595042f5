package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	statusadapter "github.com/bnema/cocode-cli/internal/adapters/render/status"
	"github.com/bnema/cocode-cli/internal/application"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/spf13/cobra"
)

func newJoinCmd(app *app) *cobra.Command {
	var (
		newRoom bool
		follow  bool
		wait    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "join [room]",
		Short: "Join a room and append stdin lines to its document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := roomFromArgs(args, newRoom)
			if err != nil {
				return err
			}

			ep, err := app.resolve(cmd.Context())
			if err != nil {
				return err
			}

			manager := app.sessionManager(ep)
			defer manager.Close()

			if err := manager.SwitchRoom(cmd.Context(), room); err != nil {
				return err
			}
			events, unsubscribe := manager.Provider().Subscribe(64)
			defer unsubscribe()

			surface := newTerminalSurface()
			if _, err := manager.Attach(cmd.Context(), surface); err != nil {
				return err
			}

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "joined %s\n", room); err != nil {
				return err
			}

			j := &joinLoop{
				out:     cmd.OutOrStdout(),
				room:    room,
				manager: manager,
				model:   surface.model,
				events:  events,
				lines:   readLines(cmd.Context(), cmd.InOrStdin()),
				follow:  follow,
				wait:    wait,
			}
			return j.run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&newRoom, "new", false, "Create a new room with a generated id")
	cmd.Flags().BoolVar(&follow, "follow", false, "Stay in the room after stdin closes until interrupted")
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "How long to wait for edits to reach the relay after stdin closes")

	return cmd
}

func roomFromArgs(args []string, generate bool) (domain.RoomID, error) {
	switch {
	case generate && len(args) > 0:
		return "", errors.New("pass either a room id or --new, not both")
	case generate:
		return domain.NewRoomID(), nil
	case len(args) == 0:
		return "", errors.New("a room id is required (or pass --new)")
	}

	room := domain.RoomID(args[0])
	if err := room.Validate(); err != nil {
		return "", err
	}
	return room, nil
}

// readLines feeds stdin to the join loop one line at a time, newline kept.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text() + "\n":
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

type joinLoop struct {
	out     io.Writer
	room    domain.RoomID
	manager *application.SessionManager
	model   *terminalModel
	events  <-chan application.ProviderEvent
	lines   <-chan string
	follow  bool
	wait    time.Duration
	synced  bool
	eof     bool
}

func (j *joinLoop) run(ctx context.Context) error {
	var deadline, syncBy <-chan time.Time
	if !j.follow {
		syncBy = time.After(j.wait)
	}
	settle := time.NewTicker(50 * time.Millisecond)
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-j.events:
			if err := j.onEvent(ev); err != nil {
				return err
			}

		case <-j.model.Redraw():
			if err := j.printDocument(); err != nil {
				return err
			}

		case line, ok := <-j.input():
			if !ok {
				j.lines = nil
				j.eof = true
				if !j.follow {
					deadline = time.After(j.wait)
				}
				continue
			}
			j.model.Append(line)

		case <-settle.C:
			if err := j.manager.Provider().Err(); errors.Is(err, domain.ErrUnauthorized) {
				return fmt.Errorf("join %s: %w", j.room, err)
			}
			if j.eof && !j.follow && j.manager.Provider().Settled() {
				return nil
			}

		case <-syncBy:
			if !j.synced {
				return fmt.Errorf("room %s not synced after %s (status %s)", j.room, j.wait, j.manager.Provider().State().Status)
			}

		case <-deadline:
			return fmt.Errorf("edits to %s were not confirmed by the relay within %s", j.room, j.wait)
		}
	}
}

// input holds stdin back until the room has synced once, so typed lines
// land after the existing document.
func (j *joinLoop) input() <-chan string {
	if !j.synced {
		j.synced = j.manager.Provider().State().Ready()
	}
	if !j.synced {
		return nil
	}
	return j.lines
}

func (j *joinLoop) onEvent(ev application.ProviderEvent) error {
	switch ev.Kind {
	case application.EventPresenceChanged:
		return nil
	case application.EventError:
		if errors.Is(ev.Err, domain.ErrUnauthorized) {
			return fmt.Errorf("join %s: %w", j.room, ev.Err)
		}
	}

	line, err := statusadapter.RenderConnection(j.room, ev.State)
	if err != nil {
		return fmt.Errorf("render connection: %w", err)
	}
	if ev.Err != nil {
		line = fmt.Sprintf("%s (%s)", line, domain.UserMessage(ev.Err))
	}
	_, err = fmt.Fprintln(j.out, line)
	return err
}

func (j *joinLoop) printDocument() error {
	rendered, err := statusadapter.RenderDocument(j.model.Text(), j.model.Cursors())
	if err != nil {
		return fmt.Errorf("render document: %w", err)
	}
	_, err = fmt.Fprintln(j.out, rendered)
	return err
}
