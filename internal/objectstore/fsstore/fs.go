// Package fsstore is a local-filesystem objectstore.Store, used for
// tests and single-node deployments that don't need S3.
package fsstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aalhour/tsdbcompactor/internal/objectstore"
)

// Store roots every Path under a base directory on local disk.
type Store struct {
	root string
}

// New creates a Store rooted at dir. dir is created if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: dir}, nil
}

func (s *Store) resolve(p objectstore.Path) string {
	return filepath.Join(s.root, filepath.FromSlash(string(p)))
}

func (s *Store) Put(ctx context.Context, path objectstore.Path, data []byte) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, full)
}

func (s *Store) Get(ctx context.Context, path objectstore.Path) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, objectstore.ErrNotFound
	}
	return data, err
}

func (s *Store) GetRange(ctx context.Context, path objectstore.Path, offset, length int64) ([]byte, error) {
	f, err := os.Open(s.resolve(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, objectstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	if length < 0 {
		return io.ReadAll(f)
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}

func (s *Store) Head(ctx context.Context, path objectstore.Path) (objectstore.Meta, error) {
	info, err := os.Stat(s.resolve(path))
	if errors.Is(err, os.ErrNotExist) {
		return objectstore.Meta{}, objectstore.ErrNotFound
	}
	if err != nil {
		return objectstore.Meta{}, err
	}
	return objectstore.Meta{Path: path, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (s *Store) List(ctx context.Context, prefix objectstore.Path) ([]objectstore.Meta, error) {
	var out []objectstore.Meta
	root := s.resolve(prefix)
	err := filepath.WalkDir(s.root, func(full string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, full)
		if err != nil {
			return err
		}
		p := objectstore.Path(filepath.ToSlash(rel))
		if !strings.HasPrefix(string(p), string(prefix)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, objectstore.Meta{Path: p, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = root
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) ListWithDelimiter(ctx context.Context, prefix objectstore.Path, delimiter string) (objectstore.ListPage, error) {
	all, err := s.List(ctx, prefix)
	if err != nil {
		return objectstore.ListPage{}, err
	}
	var page objectstore.ListPage
	seenPrefixes := map[string]bool{}
	for _, m := range all {
		rest := strings.TrimPrefix(string(m.Path), string(prefix))
		if idx := strings.Index(rest, delimiter); idx >= 0 {
			cp := string(prefix) + rest[:idx+len(delimiter)]
			if !seenPrefixes[cp] {
				seenPrefixes[cp] = true
				page.CommonPrefixes = append(page.CommonPrefixes, objectstore.Path(cp))
			}
			continue
		}
		page.Objects = append(page.Objects, m)
	}
	sort.Slice(page.CommonPrefixes, func(i, j int) bool { return page.CommonPrefixes[i] < page.CommonPrefixes[j] })
	return page, nil
}

func (s *Store) Delete(ctx context.Context, path objectstore.Path) error {
	err := os.Remove(s.resolve(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
