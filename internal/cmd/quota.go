package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/livewatch/livewatch/internal/core/store"
	"github.com/livewatch/livewatch/internal/output"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and reset persisted quota windows",
}

var (
	quotaListAll      bool
	quotaListPlatform string
)

var quotaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted quota windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := store.QuotaQuery{
			All:      quotaListAll,
			Platform: strings.TrimSpace(quotaListPlatform),
		}
		if !query.All && query.Platform == "" {
			query.All = true
		}

		ctx := cmd.Context()
		db, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListQuotaWindows(ctx, query)
		if err != nil {
			return err
		}

		windows := make([]output.QuotaWindow, 0, len(entries))
		for _, entry := range entries {
			windows = append(windows, output.QuotaWindow{State: entry.State, UpdatedAt: entry.UpdatedAt})
		}
		now := time.Now().UTC()
		return emit(cmd, "quota.list", func(f output.Formatter) (string, error) {
			return f.FormatQuota(windows, now)
		})
	},
}

var (
	quotaResetAll      bool
	quotaResetPlatform string
	quotaResetYes      bool
	quotaResetDryRun   bool
	quotaResetOutput   string
)

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete persisted quota windows",
	Long: `Delete persisted quota windows so the next start begins with a fresh
budget. A running server keeps its in-memory counters until it restarts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(quotaResetOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := store.QuotaQuery{
			All:      quotaResetAll,
			Platform: strings.TrimSpace(quotaResetPlatform),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !quotaResetYes && !quotaResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		ctx := cmd.Context()
		db, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountQuotaWindows(ctx, query)
		if err != nil {
			return err
		}
		if quotaResetDryRun {
			return writeQuotaResetResult(format, cmd.OutOrStdout(), matched, 0, true)
		}

		deleted, err := db.ResetQuotaWindows(ctx, query)
		if err != nil {
			return err
		}
		return writeQuotaResetResult(format, cmd.OutOrStdout(), matched, deleted, false)
	},
}

func writeQuotaResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d quota window(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d quota window(s)\n", deleted, matched)
	return err
}

func init() {
	rootCmd.AddCommand(quotaCmd)
	quotaCmd.AddCommand(quotaListCmd)
	quotaCmd.AddCommand(quotaResetCmd)

	quotaListCmd.Flags().BoolVar(&quotaListAll, "all", false, "List all platforms")
	quotaListCmd.Flags().StringVar(&quotaListPlatform, "platform", "", "List a single platform")
	addOutputFlags(quotaListCmd)

	quotaResetCmd.Flags().BoolVar(&quotaResetAll, "all", false, "Reset all platforms")
	quotaResetCmd.Flags().StringVar(&quotaResetPlatform, "platform", "", "Reset a single platform")
	quotaResetCmd.Flags().BoolVar(&quotaResetYes, "yes", false, "Confirm destructive reset")
	quotaResetCmd.Flags().BoolVar(&quotaResetDryRun, "dry-run", false, "Show what would be deleted")
	quotaResetCmd.Flags().StringVar(&quotaResetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
}
