package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/cocode-cli/internal/application"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const ageFadeWindow = 7 * 24 * time.Hour

type RenderOptions struct {
	Now time.Time
}

// RenderRooms lays out one page of the room history.
func RenderRooms(page domain.RoomPage, opts RenderOptions) (string, error) {
	return render(func(s styles) string {
		return renderRooms(page, opts, s)
	})
}

// RenderConnection is the one-line status indicator of a session.
func RenderConnection(room domain.RoomID, state domain.ConnectionState) (string, error) {
	return render(func(s styles) string {
		return connectionLine(room, state, s)
	})
}

// RenderTask shows how a submitted task ended.
func RenderTask(snap application.TaskSnapshot, elapsed time.Duration) (string, error) {
	return render(func(s styles) string {
		return renderTask(snap, elapsed, s)
	})
}

// RenderDocument shows the shared text and where peers have their cursors.
func RenderDocument(text string, cursors []domain.RemoteCursor) (string, error) {
	return render(func(s styles) string {
		return renderDocument(text, cursors, s)
	})
}

func renderRooms(page domain.RoomPage, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Rooms"),
		s.header.Render(fmt.Sprintf("page %d of %d, %d rooms", page.Page, max(page.TotalPages, 1), page.Total)),
	}

	if len(page.Items) == 0 {
		lines = append(lines, s.empty.Render("No rooms yet."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, room := range page.Items {
		lines = append(lines, s.section.Render(renderRoom(room, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderRoom(room domain.RoomSummary, opts RenderOptions, s styles) string {
	ageStyle := lipgloss.NewStyle().Foreground(ageColor(room.FirstMessageTimestamp, opts.Now))
	header := lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.room.Render(string(room.RoomID)),
		" ",
		ageStyle.Render(fmt.Sprintf("(%s)", formatAge(room.FirstMessageTimestamp, opts.Now))),
	)

	first := strings.TrimSpace(room.FirstMessage)
	if first == "" {
		first = "(no prompt)"
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		s.detail.Render(first),
		s.meta.Render(messageCount(room.MessageCount)),
	)
}

func renderDocument(text string, cursors []domain.RemoteCursor, s styles) string {
	body := strings.TrimRight(text, "\n")
	if body == "" {
		body = s.empty.Render("(empty document)")
	}
	lines := []string{s.title.Render("Document"), body}

	for _, c := range cursors {
		marker := lipgloss.NewStyle().Foreground(lipgloss.Color(c.Color)).Render("*")
		lines = append(lines, fmt.Sprintf("%s %s %s", marker, c.Name, s.meta.Render(fmt.Sprintf("at %d", c.Selection.Head))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func messageCount(n int) string {
	if n == 1 {
		return "1 message"
	}
	return fmt.Sprintf("%d messages", n)
}

func connectionLine(room domain.RoomID, state domain.ConnectionState, s styles) string {
	parts := []string{
		s.key.Render("room"),
		s.room.Render(string(room)),
		statusStyle(state.Status, s).Render(string(state.Status)),
	}
	if state.Status == domain.StatusConnected {
		if state.IsSynced {
			parts = append(parts, s.badgeLive.Render("[synced]"))
		} else {
			parts = append(parts, s.badgeDim.Render("[syncing]"))
		}
	}
	parts = append(parts, s.meta.Render(userCount(state.Users)))
	return strings.Join(parts, " ")
}

func statusStyle(status domain.ConnectionStatus, s styles) lipgloss.Style {
	switch status {
	case domain.StatusConnected:
		return s.success
	case domain.StatusConnecting, domain.StatusReconnecting:
		return s.pending
	case domain.StatusError:
		return s.warning
	default:
		return s.empty
	}
}

func userCount(n int) string {
	if n == 1 {
		return "1 user"
	}
	return fmt.Sprintf("%d users", n)
}

func renderTask(snap application.TaskSnapshot, elapsed time.Duration, s styles) string {
	title := s.title.Render("Task")
	if snap.TaskID != "" {
		title = lipgloss.JoinHorizontal(lipgloss.Top, title, " ", s.meta.Render(string(snap.TaskID)))
	}

	var outcome string
	switch snap.Phase {
	case domain.PhaseCompleted:
		outcome = s.success.Render(domain.TaskCompleted.Phrase())
	case domain.PhaseFailed:
		msg := domain.UserMessage(snap.Err)
		if msg == "" {
			msg = domain.TaskFailed.Phrase()
		}
		outcome = s.warning.Render(msg)
	case domain.PhaseCancelled:
		outcome = s.empty.Render("Cancelled")
	default:
		phrase := snap.Progress
		if phrase == "" {
			phrase = string(snap.Phase)
		}
		outcome = s.pending.Render(phrase)
	}

	lines := []string{title}
	if snap.Room != "" {
		lines = append(lines, s.key.Render("room ")+s.room.Render(string(snap.Room)))
	}
	lines = append(lines, outcome)
	if elapsed > 0 {
		lines = append(lines, s.meta.Render(fmt.Sprintf("took %s", elapsed.Round(100*time.Millisecond))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func formatAge(at, now time.Time) string {
	if at.IsZero() {
		return "unknown"
	}
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	age := now.Sub(at)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return plural(int(age.Minutes()), "minute") + " ago"
	case age < 24*time.Hour:
		return plural(int(age.Hours()), "hour") + " ago"
	default:
		return plural(int(math.Floor(age.Hours()/24)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// ageColor fades from bright white for fresh rooms to grey for rooms a week
// old or more.
func ageColor(at, now time.Time) lipgloss.Color {
	if now.IsZero() || at.IsZero() || at.After(now) {
		return lipgloss.Color("255")
	}
	inverted := ageFadeWindow.Seconds() - now.Sub(at).Seconds()
	return interpolateColor(inverted, 0, ageFadeWindow.Seconds())
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// ANSI 256 greyscale ramp, 240 faded to 255 bright.
	baseColor := 240.0
	targetColor := 255.0
	colorCode := int(baseColor + (targetColor-baseColor)*normalized)

	return lipgloss.Color(fmt.Sprintf("%d", colorCode))
}
