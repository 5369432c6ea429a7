package output

import (
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/livewatch/livewatch/internal/core"
)

// TableFormatter renders results as an ASCII table, or as a markdown table
// when Markdown is set.
type TableFormatter struct {
	Markdown bool
}

func (f *TableFormatter) newWriter() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) render(t table.Writer) string {
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

// FormatUsage renders per-platform quota usage followed by target counts.
func (f *TableFormatter) FormatUsage(stats core.UsageStatistics) (string, error) {
	t := f.newWriter()
	t.SetTitle("Quota usage at %s", formatTime(stats.GeneratedAt))
	t.AppendHeader(table.Row{"Platform", "Used", "Cap", "Utilization", "Window Ends", "Status"})

	for _, usage := range stats.Platforms {
		status := "ok"
		switch {
		case usage.BackoffUntil != nil && usage.BackoffUntil.After(stats.GeneratedAt):
			status = "backoff " + formatUntil(usage.BackoffUntil, stats.GeneratedAt)
		case usage.Exhausted:
			status = "exhausted"
		}
		t.AppendRow(table.Row{
			string(usage.Platform),
			usage.Used,
			usage.Cap,
			fmt.Sprintf("%.1f%%", usage.UtilizationPct),
			formatTime(usage.WindowEnd),
			status,
		})
	}

	t.AppendFooter(table.Row{
		"targets",
		stats.ActiveTargets,
		"",
		fmt.Sprintf("%d circuit open", stats.CircuitOpenTargets),
		fmt.Sprintf("%d half-open", stats.HalfOpenTargets),
		fmt.Sprintf("%d in flight", stats.InFlightTargets),
	})

	return f.render(t), nil
}

// FormatTargets renders the engine's scheduling state.
func (f *TableFormatter) FormatTargets(targets []core.Target, now time.Time) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"ID", "Platform", "Channel", "Priority", "Interval", "Next Check", "Failures", "Circuit"})

	for _, target := range targets {
		circuit := "closed"
		switch {
		case target.CircuitOpen(now):
			circuit = "open " + formatUntil(target.CircuitOpenUntil, now)
		case target.HalfOpen:
			circuit = "half-open"
		}
		next := "due"
		if target.NextEligibleAt.After(now) {
			next = "in " + target.NextEligibleAt.Sub(now).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			target.ID,
			string(target.Platform),
			target.Channel,
			target.Priority.String(),
			target.EffectiveInterval.String(),
			next,
			target.ConsecutiveFailures,
			circuit,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "total", len(targets)})

	return f.render(t), nil
}

// FormatTracked renders persisted channels.
func (f *TableFormatter) FormatTracked(targets []TrackedTarget) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"ID", "Platform", "Channel", "Priority", "Enabled", "Updated"})

	for _, target := range targets {
		t.AppendRow(table.Row{
			target.Entry.ID,
			string(target.Entry.Platform),
			target.Entry.ChannelOrID(),
			target.Entry.Priority.String(),
			target.Enabled,
			formatTime(target.UpdatedAt),
		})
	}

	return f.render(t), nil
}

// FormatStatuses renders the latest live status of each target, live
// channels first.
func (f *TableFormatter) FormatStatuses(statuses []core.StoredStatus) (string, error) {
	sorted := make([]core.StoredStatus, len(statuses))
	copy(sorted, statuses)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Status.IsLive != sorted[j].Status.IsLive {
			return sorted[i].Status.IsLive
		}
		return sorted[i].TargetID < sorted[j].TargetID
	})

	t := f.newWriter()
	t.AppendHeader(table.Row{"Target", "Platform", "Live", "Title", "Viewers", "Live Since", "Checked"})

	live := 0
	for _, s := range sorted {
		state := "offline"
		if s.Status.IsLive {
			state = "LIVE"
			live++
		}
		viewers := "-"
		if s.Status.ViewerCount != nil {
			viewers = fmt.Sprintf("%d", *s.Status.ViewerCount)
		}
		t.AppendRow(table.Row{
			s.TargetID,
			string(s.Platform),
			state,
			truncate(s.Status.Title, 48),
			viewers,
			formatTimePtr(s.LiveFrom),
			formatTime(s.Status.CheckedAt),
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d live", live, len(sorted)), "", "", "", ""})

	return f.render(t), nil
}

// FormatQuota renders persisted quota windows.
func (f *TableFormatter) FormatQuota(windows []QuotaWindow, now time.Time) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"Platform", "Requests", "Soft Cap", "Window Start", "Window End", "Backoff", "Last 429"})

	for _, w := range windows {
		t.AppendRow(table.Row{
			string(w.State.Platform),
			w.State.RequestCount,
			w.State.SoftCap,
			formatTime(w.State.WindowStart),
			formatTime(w.State.WindowEnd()),
			formatUntil(w.State.BackoffUntil, now),
			formatTimePtr(w.State.Last429At),
		})
	}

	return f.render(t), nil
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}
