package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livewatch/livewatch/internal/core"
	"github.com/livewatch/livewatch/internal/output"
	"github.com/livewatch/livewatch/internal/server/handlers"
)

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show the latest live status of tracked channels",
	Long: `Show the latest stored live status. With an id, also show the most
recent live/offline transitions of that channel.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		liveOnly, err := cmd.Flags().GetBool("live")
		if err != nil {
			return err
		}
		limit, err := cmd.Flags().GetInt("history")
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		db, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		if len(args) == 0 {
			statuses, err := db.ListStatuses(ctx, liveOnly)
			if err != nil {
				return err
			}
			return emit(cmd, "status.list", func(f output.Formatter) (string, error) {
				return f.FormatStatuses(statuses)
			})
		}

		id := strings.TrimSpace(args[0])
		status, err := db.GetStatus(ctx, id)
		if err != nil {
			return err
		}
		if status == nil {
			return fmt.Errorf("no status recorded for %q", id)
		}
		transitions, err := db.ListTransitions(ctx, id, limit)
		if err != nil {
			return err
		}

		return emit(cmd, "status."+id, func(f output.Formatter) (string, error) {
			if _, ok := f.(*output.JSONFormatter); ok {
				payload, err := json.MarshalIndent(handlers.StatusResponse{Status: *status, Transitions: transitions}, "", "  ")
				return string(payload), err
			}
			rendered, err := f.FormatStatuses([]core.StoredStatus{*status})
			if err != nil {
				return "", err
			}
			return rendered + "\n" + formatTransitions(transitions), nil
		})
	},
}

func formatTransitions(transitions []core.Transition) string {
	if len(transitions) == 0 {
		return "No transitions recorded."
	}
	var b strings.Builder
	b.WriteString("Transitions (newest first):\n")
	for _, t := range transitions {
		state := "went offline"
		if t.IsLive {
			state = "went live"
		}
		line := fmt.Sprintf("  %s  %s", t.OccurredAt.UTC().Format("2006-01-02T15:04:05Z"), state)
		if t.IsLive && t.Title != "" {
			line += "  " + t.Title
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Bool("live", false, "Only list channels that are live")
	statusCmd.Flags().Int("history", 20, "Number of transitions to show with an id")
	addOutputFlags(statusCmd)
}
