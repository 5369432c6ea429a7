package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livewatch/livewatch/internal/config"
	"github.com/livewatch/livewatch/internal/core"
	"github.com/livewatch/livewatch/internal/core/directory"
	"github.com/livewatch/livewatch/internal/observability"
	"github.com/livewatch/livewatch/internal/output"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage tracked channels",
	Long: `Manage the channels stored in the tracked_targets table.

The poller reads this table when directory.source is "store" (the default).`,
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, err := cmd.Flags().GetString("platform")
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		db, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		records, err := db.ListTargets(ctx, platform)
		if err != nil {
			return err
		}

		tracked := make([]output.TrackedTarget, 0, len(records))
		for _, record := range records {
			tracked = append(tracked, output.TrackedTarget{
				Entry:     record.Entry,
				Enabled:   record.Enabled,
				UpdatedAt: record.UpdatedAt,
			})
		}
		return emit(cmd, "targets.list", func(f output.Formatter) (string, error) {
			return f.FormatTracked(tracked)
		})
	},
}

var targetsAddCmd = &cobra.Command{
	Use:   "add <channel>",
	Short: "Track a channel",
	Long: `Track a channel. The channel is the platform-side login, slug or
channel id; --id defaults to it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := entryFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		db, cfg, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup
		warnFileDirectory(cfg)

		created, err := db.UpsertTarget(ctx, entry, time.Now())
		if err != nil {
			return err
		}
		verb := "Updated"
		if created {
			verb = "Added"
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %s, priority %s)\n",
			verb, entry.ID, entry.Platform, entry.ChannelOrID(), entry.Priority)
		return err
	},
}

var targetsRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Stop tracking a channel and delete its status history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := strings.TrimSpace(args[0])
		ctx := cmd.Context()
		db, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		deleted, err := db.DeleteTarget(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("target %q not found", id)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
		return err
	},
}

func newTargetToggleCmd(use string, enabled bool) *cobra.Command {
	short := "Resume polling a tracked channel"
	if !enabled {
		short = "Pause polling a tracked channel without deleting it"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			ctx := cmd.Context()
			db, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close() // nolint:errcheck // best-effort cleanup

			found, err := db.SetTargetEnabled(ctx, id, enabled, time.Now())
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("target %q not found", id)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", id, use)
			return err
		},
	}
}

var targetsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import channels from a YAML targets file",
	Long: `Import channels from a YAML file into the tracked_targets table.

The file is either a list of entries or a mapping with a "targets" key:

  targets:
    - id: shroud
      platform: twitch
      priority: high
    - channel: UCSJ4gkVC6NrvII8umztf0Ow
      platform: youtube
      priority: low

The whole file is validated before anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read targets file: %w", err)
		}
		entries, err := directory.Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		result := importResult{File: args[0], DryRun: dryRun, Total: len(entries)}
		if dryRun {
			return writeImportResult(cmd, result)
		}

		ctx := cmd.Context()
		db, cfg, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup
		warnFileDirectory(cfg)

		now := time.Now()
		for _, entry := range entries {
			created, err := db.UpsertTarget(ctx, entry, now)
			if err != nil {
				return fmt.Errorf("import %s: %w", entry.ID, err)
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
		}
		return writeImportResult(cmd, result)
	},
}

type importResult struct {
	File    string `json:"file"`
	DryRun  bool   `json:"dry_run"`
	Total   int    `json:"total"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
}

func writeImportResult(cmd *cobra.Command, result importResult) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	return renderImportResult(cmd.OutOrStdout(), format, result)
}

func renderImportResult(w io.Writer, format output.Format, result importResult) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	lines := []string{"Targets import", "", "File: " + result.File}
	if result.DryRun {
		lines = append(lines, fmt.Sprintf("Valid entries: %d (dry run, nothing written)", result.Total))
	} else {
		lines = append(lines, fmt.Sprintf("Created: %d", result.Created), fmt.Sprintf("Updated: %d", result.Updated))
	}
	_, err := fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
	return err
}

func entryFromFlags(cmd *cobra.Command, channel string) (core.DirectoryEntry, error) {
	platformRaw, err := cmd.Flags().GetString("platform")
	if err != nil {
		return core.DirectoryEntry{}, err
	}
	priorityRaw, err := cmd.Flags().GetString("priority")
	if err != nil {
		return core.DirectoryEntry{}, err
	}
	id, err := cmd.Flags().GetString("id")
	if err != nil {
		return core.DirectoryEntry{}, err
	}

	channel = strings.TrimSpace(channel)
	if channel == "" {
		return core.DirectoryEntry{}, errors.New("channel is required")
	}
	platform, err := core.ParsePlatform(platformRaw)
	if err != nil {
		return core.DirectoryEntry{}, err
	}
	priority, err := core.ParsePriority(priorityRaw)
	if err != nil {
		return core.DirectoryEntry{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = channel
	}
	return core.DirectoryEntry{ID: id, Platform: platform, Channel: channel, Priority: priority}, nil
}

func warnFileDirectory(cfg *config.Config) {
	if cfg != nil && strings.EqualFold(cfg.Directory.Source, config.DirectorySourceFile) {
		observability.CLILogger.Warn("directory.source is file; the poller ignores stored targets",
			zap.String("file", cfg.Directory.File))
	}
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsListCmd)
	targetsCmd.AddCommand(targetsAddCmd)
	targetsCmd.AddCommand(targetsRemoveCmd)
	targetsCmd.AddCommand(newTargetToggleCmd("enable", true))
	targetsCmd.AddCommand(newTargetToggleCmd("disable", false))
	targetsCmd.AddCommand(targetsImportCmd)

	targetsListCmd.Flags().String("platform", "", "Only list channels on this platform")
	addOutputFlags(targetsListCmd)

	targetsAddCmd.Flags().StringP("platform", "P", "", "Platform: twitch|youtube|kick (required)")
	targetsAddCmd.Flags().String("priority", "medium", "Priority: high|medium|low")
	targetsAddCmd.Flags().String("id", "", "Target id (defaults to the channel)")
	_ = targetsAddCmd.MarkFlagRequired("platform")

	targetsImportCmd.Flags().Bool("dry-run", false, "Validate the file without writing")
	targetsImportCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json")
}
