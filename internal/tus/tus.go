// Package tus reads the staging area populated by the tus upload
// server: one directory per transaction, flat files inside. The
// pipeline materializes staged files into an asset group's working
// copy and purges the transaction afterwards.
package tus

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/houston-cloud/houston/internal/fault"
	"github.com/pkg/errors"
)

type Store struct {
	root     string
	patterns []string
}

// NewStore returns a staging store rooted at root. When patterns is
// non-empty only matching filenames are listed (e.g. "*.jpg").
func NewStore(root string, patterns []string) *Store {
	return &Store{root: root, patterns: patterns}
}

func (s *Store) transactionDir(transactionID string) string {
	return filepath.Join(s.root, filepath.Base(transactionID))
}

// ListFiles returns the staged filenames for a transaction, sorted,
// filtered by the accepted patterns.
func (s *Store) ListFiles(transactionID string) ([]string, error) {
	entries, err := os.ReadDir(s.transactionDir(transactionID))
	if os.IsNotExist(err) {
		return nil, fault.NewFieldValidation(
			"transactionId", "unknown transaction %v", transactionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read staging directory")
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !s.accepted(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}

	sort.Strings(files)
	return files, nil
}

func (s *Store) accepted(name string) bool {
	if len(s.patterns) == 0 {
		return true
	}
	for _, pattern := range s.patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Materialize copies the named staged files into dst, preserving
// filenames. Size of each copied file is reported to the callback.
func (s *Store) Materialize(transactionID string, names []string, dst string, each func(name string, size int64)) error {
	for _, name := range names {
		src := filepath.Join(s.transactionDir(transactionID), filepath.Base(name))

		size, err := copyFile(src, filepath.Join(dst, filepath.Base(name)))
		if os.IsNotExist(errors.Cause(err)) {
			return fault.NewFieldValidation(
				"assetReferences", "file %v not found in transaction %v", name, transactionID)
		}
		if err != nil {
			return err
		}

		if each != nil {
			each(filepath.Base(name), size)
		}
	}

	return nil
}

// Purge removes the transaction's staging directory. A missing
// directory is not an error.
func (s *Store) Purge(transactionID string) error {
	return os.RemoveAll(s.transactionDir(transactionID))
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %v", dst)
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, errors.Wrapf(err, "failed to copy %v", src)
	}

	return n, out.Close()
}
