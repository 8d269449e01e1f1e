package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("111"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	statusBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// ShowProgress runs fn behind a spinner on a terminal, or logs the message
// and runs fn otherwise.
func ShowProgress(ctx context.Context, message string, fn func() error) error {
	if !isTerminal(os.Stderr) {
		LogInfo(message)
		return fn()
	}
	return showSpinner(ctx, os.Stderr, message, fn)
}

func showSpinner(ctx context.Context, w io.Writer, message string, fn func() error) error {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	done := make(chan error, 1)
	stop := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s %s", progressStyle.Render(frames[i%len(frames)]), message)
			}
		}
	}()

	go func() {
		done <- fn()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(stop)
	<-stopped

	if err != nil {
		fmt.Fprintf(w, "\r%s %s\n", errorStyle.Render("✗"), message)
		return err
	}
	fmt.Fprintf(w, "\r%s %s\n", successStyle.Render("✓"), message)
	return nil
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

func printStyled(w io.Writer, style lipgloss.Style, symbol, plainPrefix, message string) {
	if isTerminal(w) {
		fmt.Fprintf(w, "%s %s\n", style.Render(symbol), message)
		return
	}
	fmt.Fprintf(w, "%s%s\n", plainPrefix, message)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	printStyled(os.Stdout, successStyle, "✓", "", message)
}

// PrintError prints an error message
func PrintError(message string) {
	printStyled(os.Stderr, errorStyle, "✗", "", message)
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	printStyled(os.Stdout, progressStyle, "ℹ", "", message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	printStyled(os.Stderr, warningStyle, "⚠", "WARNING: ", message)
}

// RenderTurn formats one transcript turn for the terminal
func RenderTurn(turn Turn) string {
	if turn.Role == RoleAssistant {
		return assistantStyle.Render("assistant: ") + turn.Content
	}
	return userStyle.Render("you: ") + turn.Content
}

// RenderProgressBar draws progress (0..1) as a bar of the given width
func RenderProgressBar(progress float64, width int) string {
	if width <= 0 {
		return ""
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// FormatElapsed renders seconds as m:ss
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// RenderStatus summarizes a session snapshot in a bordered box
func RenderStatus(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", s.Topic)
	fmt.Fprintf(&b, "Time:  %s %s\n", FormatElapsed(s.ElapsedSeconds), RenderProgressBar(s.Progress, 20))
	fmt.Fprintf(&b, "Chunks accepted: %d", s.ChunksAccepted)
	if s.ObjectivesProgress > 0 {
		fmt.Fprintf(&b, "\nObjectives: %.0f%%", s.ObjectivesProgress*100)
	}

	var flags []string
	if s.Speaking {
		flags = append(flags, "speaking")
	}
	if s.Recording {
		flags = append(flags, "listening")
	}
	if s.Transcribing {
		flags = append(flags, "transcribing")
	}
	if s.AwaitingResponse {
		flags = append(flags, "waiting for reply")
	}
	if len(flags) > 0 {
		fmt.Fprintf(&b, "\n%s", strings.Join(flags, ", "))
	}

	if s.CanComplete {
		fmt.Fprintf(&b, "\n%s", successStyle.Render("Ready to complete: type /done"))
	}
	return statusBoxStyle.Render(b.String())
}
