package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/mlkmahmud/respkv/app/rdb"
)

// Restorer accepts entries read from a snapshot.
type Restorer interface {
	Restore(key string, value []byte, expiry time.Time) bool
}

// Preload copies the string keys of database 0 from the snapshot at path
// into store and returns how many were restored. A missing file is not an
// error. Keys of other types and keys that have already expired are skipped.
func Preload(store Restorer, path string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := rdb.ReadFile(path)

	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no snapshot to preload", "path", path)
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to load \"%s\": %w", path, err)
	}

	restored := 0

	for _, entry := range entries {
		if entry.Database != 0 {
			continue
		}

		if entry.Type != rdb.TypeString {
			logger.Debug("skipping non-string snapshot key", "key", entry.Key, "type", entry.Type)
			continue
		}

		if store.Restore(entry.Key, entry.Value, entry.Expiry) {
			restored += 1
		}
	}

	logger.Info("snapshot preloaded", "path", path, "keys", restored, "entries", len(entries))

	return restored, nil
}
