package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iksnae/enroll-session/internal"
	"github.com/iksnae/enroll-session/internal/service"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	configPath  string
	serverURL   string
	journalPath string
	version     string = "dev"
	commit      string = "unknown"
	date        string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "enroll-session",
	Short: "Run real-time voice and video enrollment sessions",
	Long: `A terminal client for real-time identity enrollment.

An enrollment session opens your camera and microphone, streams the captured
media to the enrollment service in periodic chunks, and holds a short timed
conversation with an assistant. Once enough material has been collected the
session can be completed and your profile is updated.

Quick Start:
  enroll-session enroll                  # Start an enrollment session
  enroll-session profile                 # Show your enrollment profile
  enroll-session verify clip.webm        # Check a recording against your profile
  enroll-session list                    # List journaled sessions`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is <user config dir>/enroll-session/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Enrollment service URL (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "Session journal database (overrides the config file)")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// loadConfig reads the config file and applies the root flag overrides
func loadConfig() (*internal.Config, error) {
	path := configPath
	if path == "" {
		dir, err := internal.DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "config.yaml")
	}

	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if journalPath != "" {
		cfg.JournalPath = journalPath
	}
	return cfg, cfg.Validate()
}

func newClient(cfg *internal.Config) *service.Client {
	return service.New(cfg.ServerURL, cfg.HTTPTimeout)
}

func openJournal(cfg *internal.Config) (*internal.Journal, error) {
	j, err := internal.OpenJournal(cfg.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return j, nil
}

// resolveUserID picks the user id from the flag, then the config, then the
// identity saved by the last completed enrollment
func resolveUserID(cfg *internal.Config, flag string) (string, error) {
	if id := strings.TrimSpace(flag); id != "" {
		return id, nil
	}
	if cfg.UserID != "" {
		return cfg.UserID, nil
	}
	ident, err := internal.NewIdentityStore(cfg.IdentityPath).Load()
	if err != nil {
		return "", err
	}
	if ident.UserID == "" {
		return "", fmt.Errorf("no user id known; complete an enrollment first or pass --user-id")
	}
	return ident.UserID, nil
}

// requestContext is the context for service calls made by a command
func requestContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
