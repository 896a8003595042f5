package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	statusadapter "github.com/bnema/cocode-cli/internal/adapters/render/status"
	"github.com/bnema/cocode-cli/internal/application"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/spf13/cobra"
)

func newPromptCmd(app *app) *cobra.Command {
	var (
		mode string
		wait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prompt <room> <text...>",
		Short: "Ask the agent to work on a room's document and follow the task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			room := domain.RoomID(args[0])
			if err := room.Validate(); err != nil {
				return err
			}
			prompt := strings.Join(args[1:], " ")

			ep, err := app.resolve(ctx)
			if err != nil {
				return err
			}
			agentMode := ep.Prefs.AgentMode
			if mode != "" {
				agentMode, err = domain.ParseAgentMode(mode)
				if err != nil {
					return err
				}
			}

			manager := app.sessionManager(ep)
			defer manager.Close()
			if err := manager.SwitchRoom(ctx, room); err != nil {
				return err
			}
			if err := waitReady(ctx, manager, wait); err != nil {
				return err
			}

			orchestrator := application.NewTaskOrchestrator(app.apiClient(ep), manager, app.clock, app.pollOptions)
			started := app.now()
			err = runTaskSpinner(ctx, cmd.ErrOrStderr(), "Submitting...", func(ctx context.Context, progress func(string)) error {
				_, err := orchestrator.Run(ctx, room, prompt, agentMode, func(p application.TaskProgress) {
					progress(p.Phrase)
				})
				return err
			})

			snap := orchestrator.Snapshot()
			if snap.Phase != domain.PhaseIdle {
				rendered, renderErr := statusadapter.RenderTask(snap, app.now().Sub(started))
				if renderErr != nil {
					return fmt.Errorf("render task: %w", renderErr)
				}
				if _, printErr := fmt.Fprintln(cmd.OutOrStdout(), rendered); printErr != nil {
					return printErr
				}
			}

			switch {
			case err == nil:
				return nil
			case domain.IsCancelled(err):
				return nil
			case snap.Phase == domain.PhaseFailed:
				return fmt.Errorf("prompt %s: %w", room, err)
			default:
				return fmt.Errorf("%s (%w)", domain.UserMessage(err), err)
			}
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Agent mode for this prompt: parallel or sequential (default from config)")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "How long to wait for the room to connect and sync")

	return cmd
}

// waitReady blocks until the session is connected and synced. An
// authentication failure ends the wait at once.
func waitReady(ctx context.Context, manager *application.SessionManager, timeout time.Duration) error {
	provider := manager.Provider()
	if provider == nil {
		return fmt.Errorf("%w: no active session", domain.ErrBinding)
	}
	events, unsubscribe := provider.Subscribe(32)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if provider.State().Ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("room %s not synced after %s (status %s)", provider.Room(), timeout, provider.State().Status)
			}
			return fmt.Errorf("wait for room %s: %w", provider.Room(), domain.ErrCancelled)
		case ev := <-events:
			if ev.Kind == application.EventError && errors.Is(ev.Err, domain.ErrUnauthorized) {
				return fmt.Errorf("%s (%w)", domain.UserMessage(ev.Err), ev.Err)
			}
		case <-ticker.C:
			if err := provider.Err(); errors.Is(err, domain.ErrUnauthorized) {
				return fmt.Errorf("%s (%w)", domain.UserMessage(err), err)
			}
		}
	}
}
