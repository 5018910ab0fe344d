// Package snapshot persists the JPEG frame captured at the moment a
// fall is accepted and hands back the opaque image reference recorded
// on the event: a presigned expiring URL in object-store mode, a plain
// file path in local mode.
package snapshot

import (
	"context"

	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/config"
)

// Store saves and deletes event screenshots.
type Store interface {
	// Save persists the JPEG and returns the image reference for the event.
	Save(ctx context.Context, userID, eventID string, jpeg []byte) (string, error)
	Delete(ctx context.Context, userID, eventID string) error
}

// Open returns the MinIO-backed store when an endpoint is configured
// and reachable, else the local directory store. Like the event store,
// the degradation is permanent for the process lifetime.
func Open(cfg config.SnapshotConfig, logger *zap.Logger) Store {
	if cfg.Endpoint == "" {
		logger.Info("no object store configured, saving snapshots locally",
			zap.String("dir", cfg.LocalDir))
		return NewLocalStore(cfg.LocalDir, logger)
	}

	ms, err := NewMinIOStore(cfg, logger)
	if err != nil {
		logger.Warn("object store unavailable, saving snapshots locally",
			zap.String("dir", cfg.LocalDir), zap.Error(err))
		return NewLocalStore(cfg.LocalDir, logger)
	}
	return ms
}
