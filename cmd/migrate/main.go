// ABOUTME: Migration utility for moving offline sync state between storage backends.
// ABOUTME: Copies config, queue, dead letters, last sync, and cached records with dry-run support.

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harperreed/agencysync/cli"
	"github.com/harperreed/agencysync/config"
	"github.com/harperreed/agencysync/models"
	"github.com/harperreed/agencysync/storage"
)

func main() {
	from := flag.String("from", config.StorageBadger, "Source backend: badger, sqlite, or charm")
	to := flag.String("to", config.StorageSQLite, "Target backend: badger, sqlite, or charm")
	dryRun := flag.Bool("dry-run", false, "Show what would happen without making changes")
	force := flag.Bool("force", false, "Overwrite keys that already exist in the target")
	verbose := flag.Bool("verbose", false, "Log every key")
	flag.Parse()

	cli.SetupLogging(*verbose)

	if *from == *to {
		log.Fatal().Msg("--from and --to must differ")
	}

	src, err := open(*from)
	if err != nil {
		log.Fatal().Err(err).Str("backend", *from).Msg("failed to open source")
	}
	defer func() { _ = src.Close() }()

	dst, err := open(*to)
	if err != nil {
		log.Fatal().Err(err).Str("backend", *to).Msg("failed to open target")
	}
	defer func() { _ = dst.Close() }()

	stats, err := migrate(src, dst, *dryRun, *force, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}

	verb := "copied"
	if *dryRun {
		verb = "would copy"
	}
	fmt.Printf("✓ %s %d key(s) from %s to %s (%d skipped, already present)\n", verb, stats.Copied, *from, *to, stats.Skipped)
}

func open(backend string) (*storage.OfflineStore, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	settings.Storage = backend
	return cli.OpenStore(settings)
}

type migrateStats struct {
	Copied  int
	Skipped int
}

// migrate copies every key under the default and configured prefixes.
func migrate(src, dst *storage.OfflineStore, dryRun, force bool, logger zerolog.Logger) (migrateStats, error) {
	var stats migrateStats

	cfg, found, err := src.LoadConfig()
	if err != nil {
		return stats, fmt.Errorf("failed to read source config: %w", err)
	}
	if !found {
		logger.Warn().Msg("source has no saved config; copying default prefix only")
	}

	prefixes := []string{models.DefaultStoragePrefix}
	if cfg.StoragePrefix != models.DefaultStoragePrefix {
		prefixes = append(prefixes, cfg.StoragePrefix)
	}

	seen := map[string]bool{}
	for _, prefix := range prefixes {
		keys, err := src.AllKeys(prefix)
		if err != nil {
			return stats, fmt.Errorf("failed to list %s keys: %w", prefix, err)
		}

		for _, key := range keys {
			if seen[key] {
				continue
			}
			seen[key] = true

			if !force {
				if _, err := dst.KV().Get(key); err == nil {
					logger.Debug().Str("key", key).Msg("exists in target; skipped")
					stats.Skipped++
					continue
				} else if !errors.Is(err, storage.ErrNotFound) {
					return stats, fmt.Errorf("failed to check %s: %w", key, err)
				}
			}

			value, err := src.KV().Get(key)
			if err != nil {
				return stats, fmt.Errorf("failed to read %s: %w", key, err)
			}

			logger.Debug().Str("key", key).Int("bytes", len(value)).Bool("dry_run", dryRun).Msg("copy")
			if !dryRun {
				if err := dst.KV().Set(key, value); err != nil {
					return stats, fmt.Errorf("failed to write %s: %w", key, err)
				}
			}
			stats.Copied++
		}
	}

	return stats, nil
}
