package archival

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/courrier/horosafe"
)

// Scratch is the root of per-request working directories.
type Scratch struct {
	root string
}

// NewScratch creates root if needed.
func NewScratch(root string) (*Scratch, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("scratch: mkdir %s: %w", root, err)
	}
	return &Scratch{root: root}, nil
}

// Root returns the scratch root directory.
func (s *Scratch) Root() string { return s.root }

// Namespace is one request's private working directory.
type Namespace struct {
	ID  string
	Dir string
}

// Create makes the namespace for a request ID. The ID must be a plain
// identifier; an existing namespace is an error, never reused.
func (s *Scratch) Create(id string) (*Namespace, error) {
	if err := horosafe.ValidateIdentifier(id); err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}
	dir, err := horosafe.SafePath(s.root, id)
	if err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("scratch: create namespace: %w", err)
	}
	return &Namespace{ID: id, Dir: dir}, nil
}

// File returns the path of a fixed internal file name inside the namespace.
func (n *Namespace) File(name string) string { return filepath.Join(n.Dir, name) }

// Remove deletes the namespace and everything in it.
func (n *Namespace) Remove() error { return os.RemoveAll(n.Dir) }

// Sweep removes namespaces older than maxAge, left behind by a crash.
func (s *Scratch) Sweep(maxAge time.Duration) (int, error) {
	des, err := os.ReadDir(s.root)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, de := range des {
		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, de.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
