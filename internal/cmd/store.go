package cmd

import (
	"context"
	"fmt"

	"github.com/livewatch/livewatch/internal/config"
	"github.com/livewatch/livewatch/internal/core/store"
)

// openStore loads the configuration, opens the store and applies migrations.
func openStore(ctx context.Context) (*store.Store, *config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return db, cfg, nil
}
