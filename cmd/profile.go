package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/iksnae/enroll-session/internal"
	"github.com/iksnae/enroll-session/internal/service"
	"github.com/spf13/cobra"
)

var (
	profileUserID  string
	profileHistory int
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show an enrollment profile and recent verifications",
	Long: `Show the enrollment profile strength, feature coverage and recent
verification results for a user. The user defaults to the identity saved by
your last completed enrollment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		userID, err := resolveUserID(cfg, profileUserID)
		if err != nil {
			return err
		}

		ctx := requestContext(cmd)
		client := newClient(cfg)
		profile, err := client.Profile(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}

		w := cmd.OutOrStdout()
		displayProfile(w, profile)

		if profileHistory > 0 {
			history, err := client.History(ctx, userID, profileHistory)
			if err != nil {
				internal.LogWarn("Failed to load verification history: %v", err)
				return nil
			}
			displayHistory(w, history)
		}
		return nil
	},
}

func displayProfile(w io.Writer, p *service.Profile) {
	_, _ = fmt.Fprintln(w, sessionHeaderStyle.Render("Profile "+p.UserID))
	_, _ = fmt.Fprintf(w, "Strength:  %s %3.0f%%\n", internal.RenderProgressBar(p.StrengthScore, 20), p.StrengthScore*100)
	_, _ = fmt.Fprintf(w, "Sessions:  %d\n", p.SessionsCount)
	_, _ = fmt.Fprintf(w, "Samples:   %d voice, %d face\n", p.TotalVoiceSamples, p.TotalFaceSamples)
	if p.LastUpdated != nil {
		_, _ = fmt.Fprintf(w, "Updated:   %s\n", p.LastUpdated.Format("2006-01-02 15:04"))
	}

	if len(p.FeatureCoverage) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, titleStyle.Render("Feature coverage"))
		features := make([]string, 0, len(p.FeatureCoverage))
		for f := range p.FeatureCoverage {
			features = append(features, f)
		}
		sort.Strings(features)
		for _, f := range features {
			score := p.FeatureCoverage[f]
			_, _ = fmt.Fprintf(w, "  %-16s %s %3.0f%%\n", f, internal.RenderProgressBar(score, 20), score*100)
		}
	}
}

func displayHistory(w io.Writer, history []service.VerificationRecord) {
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Recent verifications"))
	if len(history) == 0 {
		_, _ = fmt.Fprintln(w, dateStyle.Render("  none yet"))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for _, h := range history {
		verdict := errorStyle.Render("not authentic")
		if h.Authentic {
			verdict = successStyle.Render("authentic")
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%.0f%%\t%s\t\n",
			dateStyle.Render(h.VerifiedAt.Format("2006-01-02 15:04")), verdict, h.Confidence*100, idStyle.Render(h.ID))
	}
	_ = tw.Flush()
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.Flags().StringVar(&profileUserID, "user-id", "", "User whose profile to show")
	profileCmd.Flags().IntVar(&profileHistory, "history", 5, "Number of recent verifications to show (0 to skip)")
}
