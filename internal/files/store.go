// Package files hosts arbitrary uploaded files under one flat directory.
// Stored files are never executed.
package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrInvalidName = errors.New("files: invalid file name")
	ErrTooLarge    = errors.New("files: file too large")
)

// Info describes one hosted file.
type Info struct {
	Name string
	Size int64
}

// Store is a flat file store rooted at one directory.
type Store struct {
	root    string
	maxSize int64
}

// NewStore constructs a store. The directory is created lazily on first Put.
func NewStore(root string, maxSize int64) *Store {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = filepath.Join("bots", "files")
	}
	if maxSize <= 0 {
		maxSize = 8 << 20
	}
	return &Store{root: resolved, maxSize: maxSize}
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Put writes body under the cleaned base name of name, replacing any existing file.
func (s *Store) Put(name string, body io.Reader) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	n, err := io.Copy(tmp, io.LimitReader(body, s.maxSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > s.maxSize {
		err = fmt.Errorf("%w: limit=%d bytes", ErrTooLarge, s.maxSize)
	}
	if err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, filepath.Join(s.root, clean)); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return clean, nil
}

// List returns hosted files ordered by name. A missing root lists empty.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, err
	}
	list := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		list = append(list, Info{Name: entry.Name(), Size: info.Size()})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list, nil
}

// CleanName strips directory components and rejects hidden or empty names.
func CleanName(name string) (string, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	base := filepath.Base(filepath.FromSlash(raw))
	if raw == "" || base == "." || base == ".." || base == string(os.PathSeparator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: hidden name %q", ErrInvalidName, name)
	}
	return base, nil
}
