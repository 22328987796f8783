package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"argus/config"
	"argus/storage"
)

// InitSQLite opens the SQLite store and starts the retention loop.
func InitSQLite(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*storage.SQLiteStore, error) {
	store, err := storage.NewSQLiteStore(cfg.Database.Path, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
	}

	store.StartRetention(ctx, storage.RetentionPolicy{
		EventMaxAge: cfg.Retention.EventMaxAge,
		AlertMaxAge: cfg.Retention.AlertMaxAge,
		Interval:    cfg.Retention.Interval,
	})

	sugar.Infow("SQLite storage initialized", "path", cfg.Database.Path)
	return store, nil
}
