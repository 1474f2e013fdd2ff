package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound indicates no artifact exists for the given reference.
var ErrNotFound = errors.New("report artifact not found")

// Store persists finished report artifacts as JSON files.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("report store: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report store: create directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the artifact and returns the reference recorded on the request.
// Writes go through a temp file and rename so readers never see partial JSON.
func (s *Store) Save(ctx context.Context, rpt *Report) (string, error) {
	if rpt == nil {
		return "", errors.New("report store: nil report")
	}
	if strings.TrimSpace(rpt.RequestID) == "" {
		return "", errors.New("report store: request id required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rpt.GeneratedAt.IsZero() {
		rpt.GeneratedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(rpt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report store: encode: %w", err)
	}

	ref := rpt.RequestID + ".json"
	final := filepath.Join(s.dir, ref)
	tmp, err := os.CreateTemp(s.dir, "."+rpt.RequestID+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("report store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("report store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("report store: close: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("report store: rename: %w", err)
	}
	return ref, nil
}

// Load reads the artifact stored under ref.
func (s *Store) Load(ctx context.Context, ref string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned := filepath.Base(strings.TrimSpace(ref))
	if cleaned == "" || cleaned == "." {
		return nil, errors.New("report store: reference required")
	}
	data, err := os.ReadFile(filepath.Join(s.dir, cleaned))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("report store: read: %w", err)
	}
	var rpt Report
	if err := json.Unmarshal(data, &rpt); err != nil {
		return nil, fmt.Errorf("report store: decode: %w", err)
	}
	return &rpt, nil
}

// Remove deletes the artifact stored under ref if present.
func (s *Store) Remove(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned := filepath.Base(strings.TrimSpace(ref))
	if cleaned == "" || cleaned == "." {
		return errors.New("report store: reference required")
	}
	if err := os.Remove(filepath.Join(s.dir, cleaned)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("report store: remove: %w", err)
	}
	return nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}
