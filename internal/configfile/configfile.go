// Package configfile reads and replaces the server's configuration document
// on disk. Replacements are atomic (temp file + rename) and serialized across
// processes with an flock on a sibling lock file.
package configfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrNotFound is returned by Read when no configuration has been saved.
var ErrNotFound = errors.New("configuration file not found")

// File is the configuration document at a fixed path.
type File struct {
	path string
}

// New returns the File at path. Nothing is created until the first Update.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the document path.
func (f *File) Path() string { return f.path }

// Read returns the current document.
func (f *File) Read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Update replaces the document with the result of fn, holding the lock so
// the read, the decision and the write are not interleaved with another
// Update. fn receives nil when the document does not exist yet. When fn
// returns an error the document is left untouched.
func (f *File) Update(fn func(current []byte) ([]byte, error)) error {
	return f.withLock(func() error {
		current, err := f.Read()
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("read %s: %w", f.path, err)
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		return f.write(next)
	})
}

func (f *File) write(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// withLock serializes writers on path.lock using flock.
func (f *File) withLock(fn func() error) error {
	lockPath := f.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return err
	}

	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer lf.Close()

	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer unix.Flock(int(lf.Fd()), unix.LOCK_UN)

	return fn()
}
