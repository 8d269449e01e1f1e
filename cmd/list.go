package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/enroll-session/internal"
	"github.com/spf13/cobra"
)

var (
	listState string
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	stateStyles = map[internal.State]lipgloss.Style{
		internal.StateActive:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		internal.StateCompleting: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		internal.StateTerminated: lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
	}
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled enrollment sessions",
	Long:  `List the enrollment sessions recorded in the local journal, newest first.`,
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

		sessions, err := journal.ListSessions()
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		sessions = filterByState(sessions, listState)

		displaySessions(cmd.OutOrStdout(), sessions, time.Now())
		return nil
	},
}

func filterByState(sessions []*internal.Session, state string) []*internal.Session {
	if state == "" {
		return sessions
	}
	filtered := make([]*internal.Session, 0, len(sessions))
	for _, s := range sessions {
		if string(s.State) == state {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// formatStarted renders t relative to now the way the list command shows it
func formatStarted(t, now time.Time) string {
	if t.IsZero() {
		return "—"
	}
	diff := now.Sub(t)
	switch {
	case diff < 24*time.Hour && t.Day() == now.Day():
		return t.Format("Today 15:04")
	case diff < 7*24*time.Hour:
		return t.Format("Mon 15:04")
	case diff < 365*24*time.Hour:
		return t.Format("Jan 02 15:04")
	default:
		return t.Format("2006-01-02")
	}
}

func displaySessions(w io.Writer, sessions []*internal.Session, now time.Time) {
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(w, headerStyle.Render("No sessions found"))
		return
	}

	_, _ = fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Found %d session(s)", len(sessions))))
	_, _ = fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join([]string{
		titleStyle.Render("ID"),
		titleStyle.Render("Topic"),
		titleStyle.Render("State"),
		titleStyle.Render("Duration"),
		titleStyle.Render("Chunks"),
		titleStyle.Render("Started"),
	}, "\t")+"\t")

	for _, s := range sessions {
		topic := s.Topic
		if len(topic) > 30 {
			topic = topic[:27] + "..."
		}
		state := string(s.State)
		if style, ok := stateStyles[s.State]; ok {
			state = style.Render(state)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			idStyle.Render(s.ID),
			topic,
			state,
			internal.FormatElapsed(s.ElapsedSeconds),
			countStyle.Render(strconv.Itoa(s.ChunksAccepted)),
			dateStyle.Render(formatStarted(s.StartedAt, now)),
		)
	}
	_ = tw.Flush()

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, idStyle.Render("Tip: use `enroll-session show "+sessions[0].ID+"` to read a transcript"))
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listState, "state", "", "Only list sessions in this state (active, completing, terminated)")
}
