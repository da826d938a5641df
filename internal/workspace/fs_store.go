package workspace

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// DigestPrefix tags digests with the hash that produced them.
const DigestPrefix = "blake3:"

// fsStore keeps blobs under baseDir/<item id>/<name>.
type fsStore struct {
	baseDir string
	now     func() time.Time
}

var _ Store = (*fsStore)(nil)

// NewFSStore creates a filesystem-backed blob store rooted at baseDir.
func NewFSStore(baseDir string) (*fsStore, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("files directory is empty")
	}

	return &fsStore{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

// Put writes to a temp file in the item directory and renames it into place.
func (s *fsStore) Put(ctx context.Context, itemID, name string, r io.Reader) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}
	path, err := s.blobPath(itemID, name)
	if err != nil {
		return Blob{}, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Blob{}, fmt.Errorf("create item directory %q: %w", itemID, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return Blob{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	h := blake3.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		cleanup()
		return Blob{}, fmt.Errorf("write %q for item %q: %w", name, itemID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return Blob{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return Blob{}, fmt.Errorf("store %q for item %q: %w", name, itemID, err)
	}

	return Blob{Name: name, Size: size, Digest: DigestPrefix + hex.EncodeToString(h.Sum(nil))}, nil
}

func (s *fsStore) Open(ctx context.Context, itemID, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.blobPath(itemID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q for item %q: %w", name, itemID, err)
	}
	return f, nil
}

func (s *fsStore) Remove(ctx context.Context, itemID, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.blobPath(itemID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %q for item %q: %w", name, itemID, err)
	}
	return nil
}

func (s *fsStore) List(ctx context.Context, itemID string) ([]Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.itemDir(itemID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Blob{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read item directory %q: %w", itemID, err)
	}

	blobs := make([]Blob, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".upload-") {
			continue
		}
		digest, size, err := digestFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, Blob{Name: entry.Name(), Size: size, Digest: digest})
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Name < blobs[j].Name })
	return blobs, nil
}

func (s *fsStore) RemoveItem(ctx context.Context, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.itemDir(itemID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove item directory %q: %w", itemID, err)
	}
	return nil
}

// Cleanup removes item directories older than olderThan based on directory
// modification time.
func (s *fsStore) Cleanup(ctx context.Context, olderThan time.Duration, keep func(itemID string) bool) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read files directory: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read item directory info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if keep != nil && keep(entry.Name()) {
			report.KeptDirs++
			continue
		}

		if err := os.RemoveAll(filepath.Join(s.baseDir, entry.Name())); err != nil {
			return report, fmt.Errorf("remove item directory %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (s *fsStore) itemDir(itemID string) (string, error) {
	if err := validateSegment("item id", itemID); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, itemID), nil
}

func (s *fsStore) blobPath(itemID, name string) (string, error) {
	dir, err := s.itemDir(itemID)
	if err != nil {
		return "", err
	}
	if err := validateSegment("file name", name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func digestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %q: %w", path, err)
	}
	return DigestPrefix + hex.EncodeToString(h.Sum(nil)), n, nil
}

// validateSegment keeps ids and names to a single path element.
func validateSegment(what, v string) error {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return fmt.Errorf("%s is empty", what)
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("%s %q is invalid", what, v)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("%s %q must not contain path separators", what, v)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("%s %q is invalid", what, v)
	}
	return nil
}
