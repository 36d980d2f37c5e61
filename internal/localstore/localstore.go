// Package localstore is a small persistent key/value store shared by every
// portal context on a host. Each key is one file in a directory; writes are
// atomic (temp file + rename) and a Watcher turns writes made by other
// processes into storage events.
package localstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Well-known keys.
const (
	KeyOverride = "portal.overrideConfig"
	KeyRevision = "portal.configRevision"
)

const tempPrefix = ".tmp-"

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ErrInvalidKey is returned for keys that cannot be used as file names.
var ErrInvalidKey = errors.New("invalid storage key")

// Store is a directory of keys. It is safe for concurrent use.
type Store struct {
	dir string

	mu   sync.Mutex
	seen map[string][]byte // last value written or observed by this context
}

// Open creates dir if needed and returns a store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{dir: dir, seen: make(map[string][]byte)}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Get returns the value for key. ok is false when the key is not set.
func (s *Store) Get(key string) (value []byte, ok bool, err error) {
	if !keyPattern.MatchString(key) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores value under key.
func (s *Store) Set(key string, value []byte) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, tempPrefix+key+"-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	// Recorded before the rename so the watcher never sees an unknown value.
	s.seen[key] = bytes.Clone(value)
	if err := os.Rename(tmpName, filepath.Join(s.dir, key)); err != nil {
		os.Remove(tmpName)
		delete(s.seen, key)
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen[key] = nil
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Keys lists the stored keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list storage: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !keyPattern.MatchString(e.Name()) {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// observe records value as the current value of key and reports whether
// it differs from what this context last saw. A nil value means removed.
func (s *Store) observe(key string, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, known := s.seen[key]
	if known && bytes.Equal(prev, value) && (prev == nil) == (value == nil) {
		return false
	}
	if value == nil {
		s.seen[key] = nil
	} else {
		s.seen[key] = bytes.Clone(value)
	}
	return true
}

// snapshot marks every existing key as seen.
func (s *Store) snapshot() error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		v, ok, err := s.Get(k)
		if err != nil {
			return err
		}
		if ok {
			s.observe(k, v)
		}
	}
	return nil
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}
