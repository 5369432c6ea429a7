package output

import (
	"encoding/json"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// FormatUsage renders usage statistics as JSON.
func (f *JSONFormatter) FormatUsage(stats core.UsageStatistics) (string, error) {
	return f.marshal(stats)
}

// FormatTargets renders engine targets as JSON.
func (f *JSONFormatter) FormatTargets(targets []core.Target, _ time.Time) (string, error) {
	if targets == nil {
		targets = []core.Target{}
	}
	return f.marshal(targets)
}

// FormatTracked renders persisted channels as JSON.
func (f *JSONFormatter) FormatTracked(targets []TrackedTarget) (string, error) {
	if targets == nil {
		targets = []TrackedTarget{}
	}
	return f.marshal(targets)
}

// FormatStatuses renders live statuses as JSON.
func (f *JSONFormatter) FormatStatuses(statuses []core.StoredStatus) (string, error) {
	if statuses == nil {
		statuses = []core.StoredStatus{}
	}
	return f.marshal(statuses)
}

// FormatQuota renders quota windows as JSON.
func (f *JSONFormatter) FormatQuota(windows []QuotaWindow, _ time.Time) (string, error) {
	if windows == nil {
		windows = []QuotaWindow{}
	}
	return f.marshal(windows)
}
