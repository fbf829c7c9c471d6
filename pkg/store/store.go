package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// Store is the persisted run-state surface: the minimal durable
// representation needed to drive retrySynthesis after a process restart.
type Store interface {
	Save(ctx context.Context, snap *types.RunSnapshot) error
	Load(ctx context.Context, runID string) (*types.RunSnapshot, error)
	// Latest returns the most recently updated snapshot, or a
	// CodeRunNotFound error when nothing is persisted.
	Latest(ctx context.Context) (*types.RunSnapshot, error)
}

// FileStore persists snapshots as one JSON file per run under a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run-state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Save writes the snapshot atomically (temp file plus rename).
func (s *FileStore) Save(ctx context.Context, snap *types.RunSnapshot) error {
	if snap == nil || snap.RunID == "" {
		return flowerr.New(flowerr.CodeInvalidInput, "snapshot must carry a run ID")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path(snap.RunID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path(snap.RunID)); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for a run ID.
func (s *FileStore) Load(ctx context.Context, runID string) (*types.RunSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(runID))
	if os.IsNotExist(err) {
		return nil, flowerr.Newf(flowerr.CodeRunNotFound, "no persisted run %q", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap types.RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", runID, err)
	}
	return &snap, nil
}

// Latest returns the snapshot with the newest Updated timestamp.
func (s *FileStore) Latest(ctx context.Context) (*types.RunSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("scan run-state directory: %w", err)
	}
	var latest *types.RunSnapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		snap, err := s.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if latest == nil || snap.Updated.After(latest.Updated) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, flowerr.New(flowerr.CodeRunNotFound, "no persisted runs")
	}
	return latest, nil
}
