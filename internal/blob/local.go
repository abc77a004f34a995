package blob

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// LocalStore implements Store on a local directory. Default backend for
// development and tests.
type LocalStore struct {
	root string
}

// NewLocal creates a LocalStore rooted at dir, creating it if needed.
func NewLocal(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create root %s", dir)
	}
	return &LocalStore{root: dir}, nil
}

func (s *LocalStore) Put(ctx context.Context, recordID, label, filename string, data []byte) (string, error) {
	key := Key(recordID, label, filename)
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", eris.Wrapf(err, "blob: create dir for %s", key)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "blob: write %s", key)
	}
	return key, nil
}

func (s *LocalStore) List(ctx context.Context, recordID string) ([]string, error) {
	dir := filepath.Join(s.root, recordID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: list %s", recordID)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, recordID+"/"+e.Name())
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *LocalStore) Get(ctx context.Context, path string) ([]byte, error) {
	if strings.Contains(path, "..") {
		return nil, eris.Errorf("blob: invalid path %s", path)
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", path)
	}
	return data, nil
}
