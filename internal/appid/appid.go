// Package appid provides the application identity used for config paths,
// environment prefixes and telemetry namespaces.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"
)

const (
	BinaryName  = "livewatch"
	ConfigName  = "livewatch"
	EnvPrefix   = "LIVEWATCH_"
	Vendor      = "livewatch"
	Description = "Quota-safe live-status poller for Twitch, YouTube and Kick"
)

// Get returns a fresh copy of the identity so callers cannot mutate shared state.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &appidentity.Identity{
		Vendor:      Vendor,
		BinaryName:  BinaryName,
		ConfigName:  ConfigName,
		EnvPrefix:   EnvPrefix,
		Description: Description,
	}, nil
}
