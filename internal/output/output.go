package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// TrackedTarget is a persisted channel as listed by `targets list`.
type TrackedTarget struct {
	Entry     core.DirectoryEntry `json:"target"`
	Enabled   bool                `json:"enabled"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// QuotaWindow is a persisted quota window as listed by `quota list`.
type QuotaWindow struct {
	State     core.QuotaState `json:"state"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Formatter renders CLI results.
type Formatter interface {
	FormatUsage(stats core.UsageStatistics) (string, error)
	FormatTargets(targets []core.Target, now time.Time) (string, error)
	FormatTracked(targets []TrackedTarget) (string, error)
	FormatStatuses(statuses []core.StoredStatus) (string, error)
	FormatQuota(windows []QuotaWindow, now time.Time) (string, error)
}

// Extension is the file extension used when writing to --out-dir.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &TableFormatter{Markdown: true}
	default:
		return &TableFormatter{}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

// formatUntil renders a deadline relative to now, e.g. "in 4m0s".
func formatUntil(t *time.Time, now time.Time) string {
	if t == nil || !t.After(now) {
		return "-"
	}
	return "in " + t.Sub(now).Round(time.Second).String()
}
