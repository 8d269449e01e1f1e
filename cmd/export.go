package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iksnae/enroll-session/internal"
	"github.com/iksnae/enroll-session/internal/export"
	"github.com/spf13/cobra"
)

var (
	format      string
	outputDir   string
	sessionID   string
	exportState string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export session transcripts to files",
	Long: `Export journaled enrollment transcripts to various formats (jsonl, md, yaml, json).

You can export all sessions, only sessions in one state, or a specific session by ID.
Use 'enroll-session list' to see available session IDs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := export.NewExporter(format)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		journal, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = journal.Close() }()

		var sessions []*internal.Session
		if sessionID != "" {
			s, err := journal.LoadSession(sessionID)
			if err != nil {
				return fmt.Errorf("%w (use 'enroll-session list' to see available sessions)", err)
			}
			sessions = append(sessions, s)
		} else {
			listed, err := journal.ListSessions()
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			for _, s := range filterByState(listed, exportState) {
				full, err := journal.LoadSession(s.ID)
				if err != nil {
					internal.LogWarn("Skipping session %s: %v", s.ID, err)
					continue
				}
				sessions = append(sessions, full)
			}
		}

		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		exported := 0
		err = internal.ShowProgress(context.Background(), fmt.Sprintf("Exporting %d session(s) to %s", len(sessions), outputDir), func() error {
			for _, session := range sessions {
				path := filepath.Join(outputDir, fmt.Sprintf("session_%s.%s", session.ID, exporter.Extension()))
				if err := exportFile(exporter, session, path); err != nil {
					internal.LogError("Failed to export session %s: %v", session.ID, err)
					continue
				}
				exported++
			}
			return nil
		})
		if err != nil {
			return err
		}

		internal.PrintSuccess(fmt.Sprintf("Export complete: %d session(s) exported to %s", exported, outputDir))
		return nil
	},
}

func exportFile(exporter export.Exporter, session *internal.Session, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := exporter.Export(session, file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "jsonl", "Export format (jsonl, md, yaml, json)")
	exportCmd.Flags().StringVarP(&outputDir, "out", "o", "./exports", "Output directory")
	exportCmd.Flags().StringVar(&sessionID, "session-id", "", "Export a specific session by ID")
	exportCmd.Flags().StringVar(&exportState, "state", "", "Only export sessions in this state")
}
