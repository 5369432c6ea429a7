package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/livewatch/livewatch/internal/core/engine"
)

var (
	versionMu sync.RWMutex
	build     = BuildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	identity  *appidentity.Identity
	poller    *PollerInfo
)

// BuildInfo is injected from main through SetVersionInfo.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// SetVersionInfo records the build metadata served by /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	build = BuildInfo{Version: version, Commit: commit, BuildDate: buildDate}
}

// SetAppIdentity records the identity whose binary name is served by /version.
func SetAppIdentity(id *appidentity.Identity) {
	versionMu.Lock()
	defer versionMu.Unlock()
	identity = id
}

// SetEngineConfig records the polled platforms and engine limits served by
// /version. Nil clears them.
func SetEngineConfig(cfg *engine.Config) {
	versionMu.Lock()
	defer versionMu.Unlock()
	if cfg == nil {
		poller = nil
		return
	}
	poller = pollerInfoFrom(*cfg)
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Poller       *PollerInfo `json:"poller,omitempty"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

// AppInfo contains application version details
type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// PollerInfo summarizes how the engine was configured.
type PollerInfo struct {
	Workers      int            `json:"workers"`
	TickInterval string         `json:"tick_interval"`
	Platforms    []PlatformInfo `json:"platforms"`
}

// PlatformInfo describes the quota rules of one polled platform.
type PlatformInfo struct {
	Name        string `json:"name"`
	MinInterval string `json:"min_interval"`
	SoftCap     int    `json:"soft_cap"`
	HardLimit   int    `json:"hard_limit,omitempty"`
	Window      string `json:"window"`
	RequestCost int    `json:"request_cost"`
	DailyCap    bool   `json:"daily_cap,omitempty"`
}

// DepInfo contains dependency version information
type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

// RuntimeInfo contains runtime environment information
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

func pollerInfoFrom(cfg engine.Config) *PollerInfo {
	info := &PollerInfo{
		Workers:      cfg.Workers,
		TickInterval: cfg.TickInterval.String(),
		Platforms:    make([]PlatformInfo, 0, len(cfg.Platforms)),
	}
	for platform, policy := range cfg.Platforms {
		info.Platforms = append(info.Platforms, PlatformInfo{
			Name:        string(platform),
			MinInterval: policy.MinInterval.String(),
			SoftCap:     policy.Quota.SoftCap,
			HardLimit:   policy.Quota.HardLimit,
			Window:      policy.Quota.WindowLength().String(),
			RequestCost: policy.Quota.Cost(),
			DailyCap:    policy.Quota.DailyCap,
		})
	}
	sort.Slice(info.Platforms, func(i, j int) bool { return info.Platforms[i].Name < info.Platforms[j].Name })
	return info
}

func binaryName(id *appidentity.Identity) string {
	if id != nil && id.BinaryName != "" {
		return id.BinaryName
	}
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "unknown"
}

// VersionHandler serves build, poller and runtime information.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	versionMu.RLock()
	b, id, p := build, identity, poller
	versionMu.RUnlock()

	deps := crucible.GetVersion()
	respondJSON(w, http.StatusOK, VersionResponse{
		App: AppInfo{
			Name:      binaryName(id),
			Version:   b.Version,
			Commit:    b.Commit,
			BuildDate: b.BuildDate,
			GoVersion: runtime.Version(),
		},
		Poller: p,
		Dependencies: DepInfo{
			Gofulmen: deps.Gofulmen,
			Crucible: deps.Crucible,
		},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	})
}
