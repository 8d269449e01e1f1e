package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/iksnae/enroll-session/internal"
	"github.com/iksnae/enroll-session/internal/service"
	"github.com/spf13/cobra"
)

var (
	verifyUserID string
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check a recording against an enrollment profile",
	Long: `Upload an audio or video recording and check whether it matches the
enrolled voice and face of a user. The user defaults to the identity saved by
your last completed enrollment.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		userID, err := resolveUserID(cfg, verifyUserID)
		if err != nil {
			return err
		}

		ctx := requestContext(cmd)
		var result *service.VerifyResult
		err = internal.ShowProgress(ctx, "Analyzing "+args[0], func() error {
			var verr error
			result, verr = newClient(cfg).Verify(ctx, userID, args[0])
			return verr
		})
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		displayVerdict(cmd.OutOrStdout(), result)
		return nil
	},
}

func displayVerdict(w io.Writer, r *service.VerifyResult) {
	if r.Authentic {
		_, _ = fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✅ Authentic (confidence %.0f%%)", r.Confidence*100)))
	} else {
		_, _ = fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("❌ Not authentic (confidence %.0f%%)", r.Confidence*100)))
	}
	_, _ = fmt.Fprintln(w)

	rows := []struct {
		label string
		score float64
	}{
		{"Voice match", r.Breakdown.VoiceMatch},
		{"Face match", r.Breakdown.FaceMatch},
		{"Lip sync", r.Breakdown.LipSync},
		{"Speech patterns", r.Breakdown.SpeechPatterns},
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "  %-16s %s %3.0f%%\n", row.label, internal.RenderProgressBar(row.score, 20), row.score*100)
	}

	if len(r.Anomalies) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, warningStyle.Render("Anomalies:"))
		_, _ = fmt.Fprintln(w, "  • "+strings.Join(r.Anomalies, "\n  • "))
	}
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyUserID, "user-id", "", "User whose profile to verify against")
}
