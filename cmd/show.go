package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/enroll-session/internal"
	"github.com/spf13/cobra"
)

var (
	limit int
)

var (
	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212")).
				Padding(0, 1).
				MarginBottom(1)

	sessionMetaStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("243")).
				MarginBottom(1)

	userMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39")).
				Bold(true).
				Padding(0, 1)

	assistantMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("135")).
				Bold(true).
				Padding(0, 1)

	messageContentStyle = lipgloss.NewStyle().
				Padding(0, 2).
				MarginBottom(1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the transcript of a journaled session",
	Long:  `Display the transcript and upload statistics of one enrollment session from the local journal.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		journal, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = journal.Close() }()

		session, err := journal.LoadSession(args[0])
		if err != nil {
			return fmt.Errorf("%w (use 'enroll-session list' to see available sessions)", err)
		}
		total, accepted, rawBytes, err := journal.ChunkStats(session.ID)
		if err != nil {
			internal.LogWarn("Failed to read chunk stats: %v", err)
		}

		w := cmd.OutOrStdout()
		displaySessionHeader(w, session, chunkStats{total: total, accepted: accepted, rawBytes: rawBytes})

		turns := session.Turns
		if limit > 0 && limit < len(turns) {
			turns = turns[:limit]
		}
		for i, turn := range turns {
			displayTurn(w, i+1, turn, len(session.Turns))
		}
		if len(turns) < len(session.Turns) {
			_, _ = fmt.Fprintln(w, timestampStyle.Render(fmt.Sprintf("... (%d more turn(s))", len(session.Turns)-len(turns))))
		}
		return nil
	},
}

type chunkStats struct {
	total, accepted, rawBytes int
}

func displaySessionHeader(w io.Writer, s *internal.Session, stats chunkStats) {
	_, _ = fmt.Fprintln(w, sessionHeaderStyle.Render(fmt.Sprintf("Session %s: %s", s.ID, s.Topic)))

	meta := []string{
		"State: " + string(s.State),
		"Duration: " + internal.FormatElapsed(s.ElapsedSeconds),
		fmt.Sprintf("Turns: %d", len(s.Turns)),
		fmt.Sprintf("Chunks: %d/%d accepted (%s)", stats.accepted, stats.total, formatBytes(stats.rawBytes)),
	}
	if s.UserID != "" {
		meta = append(meta, "User: "+s.UserID)
	}
	if !s.StartedAt.IsZero() {
		meta = append(meta, "Started: "+s.StartedAt.Format("2006-01-02 15:04"))
	}
	_, _ = fmt.Fprintln(w, sessionMetaStyle.Render(strings.Join(meta, " • ")))
}

func displayTurn(w io.Writer, index int, turn internal.Turn, total int) {
	label := assistantMessageStyle.Render("Assistant")
	if turn.Role == internal.RoleUser {
		label = userMessageStyle.Render("You")
	}

	header := label + " " + timestampStyle.Render(fmt.Sprintf("[%d/%d]", index, total))
	if !turn.InsertedAt.IsZero() {
		header += " " + timestampStyle.Render(turn.InsertedAt.Format("15:04:05"))
	}
	_, _ = fmt.Fprintln(w, header)

	content := strings.TrimSpace(turn.Content)
	if content == "" {
		content = "(empty)"
	}
	_, _ = fmt.Fprintln(w, messageContentStyle.Render(wrapText(content, 80)))
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// wrapText wraps each line of text at width on word boundaries
func wrapText(text string, width int) string {
	var wrapped []string
	for _, line := range strings.Split(text, "\n") {
		if len(line) <= width {
			wrapped = append(wrapped, line)
			continue
		}
		current := ""
		for _, word := range strings.Fields(line) {
			switch {
			case current == "":
				current = word
			case len(current)+len(word)+1 > width:
				wrapped = append(wrapped, current)
				current = word
			default:
				current += " " + word
			}
		}
		if current != "" {
			wrapped = append(wrapped, current)
		}
	}
	return strings.Join(wrapped, "\n")
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Limit number of turns to show")
}
