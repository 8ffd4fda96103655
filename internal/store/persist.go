// internal/store/persist.go
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Open returns a store loaded from path when the file exists.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := New(path, logger)
	if path == "" {
		return s, nil
	}
	if err := s.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return s, nil
}

// Save writes a CBOR snapshot atomically. Without a path it is a no-op.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	b, err := encMode.Marshal(s.d)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store: replace snapshot: %w", err)
	}

	s.log.Debug("snapshot saved", zap.String("path", s.path), zap.Int("bytes", len(b)))
	return nil
}

// Load replaces the in-memory state with the snapshot at the store path.
func (s *Store) Load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	d := emptyData()
	if err := cbor.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("store: decode snapshot %s: %w", s.path, err)
	}
	if d.Categories == nil {
		d.Categories = make(map[string]int64)
	}
	if d.Frames == nil {
		d.Frames = make(map[int64][]string)
	}

	s.mu.Lock()
	s.d = d
	s.mu.Unlock()

	s.log.Info("snapshot loaded",
		zap.String("path", s.path),
		zap.Int("sessions", len(d.Sessions)),
		zap.Int("categories", len(d.Categories)),
	)
	return nil
}
