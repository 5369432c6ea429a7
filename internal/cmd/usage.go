package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/livewatch/livewatch/internal/config"
	"github.com/livewatch/livewatch/internal/core"
	"github.com/livewatch/livewatch/internal/output"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show quota usage of a running server",
	Long: `Query a running server for per-platform quota usage. With --targets,
show the scheduling state of every registered target instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, err := cmd.Flags().GetString("server")
		if err != nil {
			return err
		}
		showTargets, err := cmd.Flags().GetBool("targets")
		if err != nil {
			return err
		}
		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return err
		}

		if strings.TrimSpace(serverURL) == "" {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			serverURL = "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		}
		client := &http.Client{Timeout: timeout}

		if showTargets {
			var targets []core.Target
			if err := fetchJSON(cmd.Context(), client, serverURL, "/v1/targets", &targets); err != nil {
				return err
			}
			now := time.Now().UTC()
			return emit(cmd, "usage.targets", func(f output.Formatter) (string, error) {
				return f.FormatTargets(targets, now)
			})
		}

		var stats core.UsageStatistics
		if err := fetchJSON(cmd.Context(), client, serverURL, "/v1/usage", &stats); err != nil {
			return err
		}
		return emit(cmd, "usage", func(f output.Formatter) (string, error) {
			return f.FormatUsage(stats)
		})
	},
}

func fetchJSON(ctx context.Context, client *http.Client, baseURL, path string, v any) error {
	endpoint := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", endpoint, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("query %s: %s: %s", endpoint, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().String("server", "", "Server base URL (default from server.host and server.port)")
	usageCmd.Flags().Bool("targets", false, "Show target scheduling state instead of quota usage")
	usageCmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")
	addOutputFlags(usageCmd)
}
