package cmd

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/enroll-session/internal"
	"github.com/spf13/cobra"
)

var (
	healthcheckDetails bool
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that enrollment sessions can run on this machine",
	Long: `Check the health of enroll-session by verifying:
  • The configuration file loads and validates
  • ffmpeg and ffplay are installed
  • The session journal is accessible
  • The enrollment service is reachable`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(w, sectionStyle.Render("Enroll Session Health Check"))
		_, _ = fmt.Fprintln(w)

		_, _ = fmt.Fprintln(w, infoStyle.Render("Step 1: Loading configuration..."))
		cfg, err := loadConfig()
		if err != nil {
			_, _ = fmt.Fprintln(w, errorStyle.Render("❌ Invalid configuration:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		_, _ = fmt.Fprintln(w, successStyle.Render("✅ Configuration loaded"))
		if healthcheckDetails {
			_, _ = fmt.Fprintf(w, "   Server: %s\n   Journal: %s\n   Identity: %s\n", cfg.ServerURL, cfg.JournalPath, cfg.IdentityPath)
		}
		_, _ = fmt.Fprintln(w)

		failures := 0

		_, _ = fmt.Fprintln(w, infoStyle.Render("Step 2: Checking media tools..."))
		for _, tool := range []string{"ffmpeg", "ffplay"} {
			if !checkTool(w, tool) {
				failures++
			}
		}
		_, _ = fmt.Fprintln(w)

		_, _ = fmt.Fprintln(w, infoStyle.Render("Step 3: Opening session journal..."))
		if !checkJournal(w, cfg) {
			failures++
		}
		_, _ = fmt.Fprintln(w)

		_, _ = fmt.Fprintln(w, infoStyle.Render("Step 4: Contacting enrollment service..."))
		if !checkService(requestContext(cmd), w, cfg) {
			failures++
		}
		_, _ = fmt.Fprintln(w)

		_, _ = fmt.Fprintln(w, sectionStyle.Render("Summary"))
		if failures > 0 {
			_, _ = fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("❌ Health check failed: %d problem(s) found", failures)))
			return fmt.Errorf("health check failed: %d problem(s)", failures)
		}
		_, _ = fmt.Fprintln(w, successStyle.Render("✅ Health check passed!"))
		return nil
	},
}

func checkTool(w io.Writer, name string) bool {
	path, err := exec.LookPath(name)
	if err != nil {
		_, _ = fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("❌ %s not found in PATH", name)))
		return false
	}
	_, _ = fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✅ %s found", name)))
	if healthcheckDetails {
		_, _ = fmt.Fprintf(w, "   Path: %s\n", path)
	}
	return true
}

func checkJournal(w io.Writer, cfg *internal.Config) bool {
	journal, err := openJournal(cfg)
	if err != nil {
		_, _ = fmt.Fprintln(w, errorStyle.Render("❌ Journal not accessible:"), err)
		return false
	}
	defer func() { _ = journal.Close() }()

	sessions, err := journal.ListSessions()
	if err != nil {
		_, _ = fmt.Fprintln(w, errorStyle.Render("❌ Journal not readable:"), err)
		return false
	}
	_, _ = fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✅ Journal accessible (%d session(s))", len(sessions))))
	return true
}

func checkService(ctx context.Context, w io.Writer, cfg *internal.Config) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health, err := newClient(cfg).Health(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(w, errorStyle.Render("❌ Service unreachable:"), err)
		return false
	}
	if health.Status != "healthy" {
		_, _ = fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf("⚠️  Service reports status %q", health.Status)))
		return false
	}
	_, _ = fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✅ %s is healthy", health.Service)))
	return true
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVarP(&healthcheckDetails, "details", "d", false, "Show detailed diagnostic information")
}
