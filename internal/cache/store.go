// Package cache provides the keyed blob store used by restore_cache and
// save_cache steps: exact-then-prefix key fallback on restore, and a
// reject-duplicate policy on save.
package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	nwferrors "github.com/wiheto/niworkflows/internal/errors"
)

// Entry describes one stored cache entry.
type Entry struct {
	// Key is the fully expanded cache key.
	Key string `json:"key"`
	// Paths are the relative paths stored under the entry.
	Paths []string `json:"paths"`
	// SavedAt orders entries matched by the same prefix.
	SavedAt time.Time `json:"saved_at"`
}

// Store is the narrow interface jobs use for cache access. Entries are
// immutable once saved; concurrent writers to distinct keys never
// conflict, and a duplicate key save is rejected rather than
// overwritten.
type Store interface {
	// Save stores the given paths (resolved against root) under key.
	// Returns ErrDuplicateKey if the key already exists.
	Save(key string, root string, paths []string) error

	// Restore scans keys in order and materializes the first matching
	// entry into root. A key matches an entry exactly, or as a prefix
	// of the entry's key; exact wins, then the most recent prefixed
	// entry. Returns ErrCacheMiss when nothing matches - callers treat
	// that as a cold start, not a failure.
	Restore(keys []string, root string) (*Entry, error)

	// Lookup is Restore without materializing any files.
	Lookup(keys []string) (*Entry, error)
}

// FileStore implements Store on the local filesystem.
//
// Layout:
//
//	{dir}/
//	  {keyhash}/
//	    entry.json
//	    data/
//	      {stored paths...}
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Save stores paths under key, rejecting duplicates.
func (s *FileStore) Save(key string, root string, paths []string) error {
	entryDir := filepath.Join(s.dir, keyHash(key))
	if _, err := os.Stat(filepath.Join(entryDir, "entry.json")); err == nil {
		return fmt.Errorf("%w: %s", nwferrors.ErrDuplicateKey, key)
	}

	// Stage into a temp dir then rename, so concurrent savers of the
	// same key resolve to one winner and readers never see a partial
	// entry.
	tmp, err := os.MkdirTemp(s.dir, "save-*")
	if err != nil {
		return nwferrors.Wrap(err, "cache save")
	}
	defer os.RemoveAll(tmp)

	dataDir := filepath.Join(tmp, "data")
	var stored []string
	for _, p := range paths {
		src := p
		if !filepath.IsAbs(src) {
			src = filepath.Join(root, p)
		}
		if err := copyTree(src, filepath.Join(dataDir, p)); err != nil {
			return nwferrors.Wrap(err, "cache save")
		}
		stored = append(stored, p)
	}

	entry := Entry{Key: key, Paths: stored, SavedAt: time.Now().UTC()}
	meta, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmp, "entry.json"), meta, 0o644); err != nil {
		return nwferrors.Wrap(err, "cache save")
	}

	if err := os.Rename(tmp, entryDir); err != nil {
		if _, statErr := os.Stat(filepath.Join(entryDir, "entry.json")); statErr == nil {
			return fmt.Errorf("%w: %s", nwferrors.ErrDuplicateKey, key)
		}
		return nwferrors.Wrap(err, "cache save")
	}
	return nil
}

// Restore materializes the first matching entry into root.
func (s *FileStore) Restore(keys []string, root string) (*Entry, error) {
	entry, err := s.Lookup(keys)
	if err != nil {
		return nil, err
	}
	dataDir := filepath.Join(s.dir, keyHash(entry.Key), "data")
	for _, p := range entry.Paths {
		dst := p
		if !filepath.IsAbs(dst) {
			dst = filepath.Join(root, p)
		}
		if err := copyTree(filepath.Join(dataDir, p), dst); err != nil {
			return nil, nwferrors.Wrap(err, "cache restore")
		}
	}
	return entry, nil
}

// Lookup returns the entry Restore would pick, without copying files.
func (s *FileStore) Lookup(keys []string) (*Entry, error) {
	entries, err := s.list()
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		var exact *Entry
		var prefixed []*Entry
		for i := range entries {
			e := &entries[i]
			if e.Key == key {
				exact = e
				break
			}
			if len(key) < len(e.Key) && e.Key[:len(key)] == key {
				prefixed = append(prefixed, e)
			}
		}
		if exact != nil {
			return exact, nil
		}
		if len(prefixed) > 0 {
			sort.Slice(prefixed, func(i, j int) bool {
				if !prefixed[i].SavedAt.Equal(prefixed[j].SavedAt) {
					return prefixed[i].SavedAt.After(prefixed[j].SavedAt)
				}
				return prefixed[i].Key < prefixed[j].Key
			})
			return prefixed[0], nil
		}
	}
	return nil, nwferrors.ErrCacheMiss
}

func (s *FileStore) list() ([]Entry, error) {
	dirs, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nwferrors.Wrap(err, "cache list")
	}
	var entries []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		meta, err := os.ReadFile(filepath.Join(s.dir, d.Name(), "entry.json"))
		if err != nil {
			continue // staging dir or partial entry
		}
		var e Entry
		if err := json.Unmarshal(meta, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// copyTree copies a file or directory tree, preserving permissions.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode()); err != nil {
			return err
		}
		children, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := copyTree(filepath.Join(src, c.Name()), filepath.Join(dst, c.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
