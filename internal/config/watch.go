package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchCatalog loads the catalogue, hands it to onUpdate, then polls the
// file's modification time and reloads on change. Broken edits are logged
// and skipped; the last good catalogue stays in effect.
func WatchCatalog(ctx context.Context, path string, interval time.Duration, logger zerolog.Logger, onUpdate func(*CatalogConfig) error) error {
	if path == "" {
		path = "configs/cabins.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger = logger.With().Str("component", "catalog_watch").Str("path", path).Logger()

	cfg, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	if err := onUpdate(cfg); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil || !info.ModTime().After(lastMod) {
					continue
				}
				cfg, err := LoadCatalog(path)
				if err != nil {
					logger.Warn().Err(err).Msg("catalog reload failed")
					continue
				}
				if err := onUpdate(cfg); err != nil {
					logger.Error().Err(err).Msg("catalog apply failed")
					continue
				}
				lastMod = info.ModTime()
				logger.Info().Int("cabins", len(cfg.Cabins)).Msg("catalog reloaded")
			}
		}
	}()
	return nil
}
