// Package artifact stores uploaded receipt files. The core only ever
// holds the opaque reference returned by Save.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store is the file/object storage collaborator.
type Store interface {
	Save(filename string, r io.Reader) (ref string, err error)
	Delete(ref string) error
}

// LocalStore keeps artifacts on the local filesystem under a base dir.
type LocalStore struct {
	base string
}

// NewLocalStore creates a LocalStore rooted at base, creating it if
// needed.
func NewLocalStore(base string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(base, "receipts"), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact base dir: %w", err)
	}
	return &LocalStore{base: base}, nil
}

// Save writes the bytes to a uuid-prefixed file and returns the relative
// reference.
func (s *LocalStore) Save(filename string, r io.Reader) (string, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "receipt"
	}
	ref := filepath.Join("receipts", uuid.NewString()+"-"+name)
	f, err := os.Create(filepath.Join(s.base, ref))
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		_ = os.Remove(filepath.Join(s.base, ref))
		return "", fmt.Errorf("write artifact file: %w", err)
	}
	return ref, nil
}

// Delete removes the referenced file. A missing file is not an error;
// deletion is idempotent.
func (s *LocalStore) Delete(ref string) error {
	if ref == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.base, ref))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete artifact %q: %w", ref, err)
	}
	return nil
}

// AbsPath resolves a reference to an absolute path for local processing
// (OCR passes need a file path).
func (s *LocalStore) AbsPath(ref string) string {
	return filepath.Join(s.base, ref)
}
