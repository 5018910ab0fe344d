package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// LocalStore writes snapshots under a directory tree mirroring the
// object-store key layout. The returned reference is the file path.
type LocalStore struct {
	dir    string
	logger *zap.Logger
}

func NewLocalStore(dir string, logger *zap.Logger) *LocalStore {
	return &LocalStore{dir: dir, logger: logger.Named("snapshot-local")}
}

func (s *LocalStore) Save(ctx context.Context, userID, eventID string, jpeg []byte) (string, error) {
	path := filepath.Join(s.dir, "users", userID, "falls", eventID+".jpg")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	s.logger.Info("snapshot written", zap.String("path", path), zap.Int("bytes", len(jpeg)))
	return path, nil
}

func (s *LocalStore) Delete(ctx context.Context, userID, eventID string) error {
	path := filepath.Join(s.dir, "users", userID, "falls", eventID+".jpg")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
