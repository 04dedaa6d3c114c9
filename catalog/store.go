package catalog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/etnz/apt-publish/deb"
)

// ErrNotFound is returned by stores for unknown content.
var ErrNotFound = errors.New("content not found")

// Store gives access to the bytes of content records, addressed by their sha256 digest.
type Store interface {
	Open(sha256 string) (io.ReadCloser, error)
}

// Locator is implemented by stores keeping content in local files, so that
// they can be linked instead of copied.
type Locator interface {
	Locate(sha256 string) (string, bool)
}

// DirStore is a content-addressed directory: the file of digest d is stored
// at <Root>/<d[:2]>/<d>.
type DirStore struct {
	Root string
}

// Path returns the location of sha256 in the store, whether it exists or not.
func (s DirStore) Path(sha256 string) string {
	prefix := sha256
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.Root, prefix, sha256)
}

// Open implements Store.
func (s DirStore) Open(sha256 string) (io.ReadCloser, error) {
	if sha256 == "" {
		return nil, ErrNotFound
	}
	f, err := os.Open(s.Path(sha256))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sha256)
	}
	return f, err
}

// Locate implements Locator.
func (s DirStore) Locate(sha256 string) (string, bool) {
	if sha256 == "" {
		return "", false
	}
	p := s.Path(sha256)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// Put copies r into the store and returns its size and digests.
// Content already present is left untouched.
func (s DirStore) Put(r io.Reader) (deb.Artifact, error) {
	if err := os.MkdirAll(s.Root, 0755); err != nil {
		return deb.Artifact{}, err
	}
	tmp, err := os.CreateTemp(s.Root, ".put-*")
	if err != nil {
		return deb.Artifact{}, err
	}
	defer os.Remove(tmp.Name())

	m := deb.NewMultiHasher(tmp, deb.AllAlgorithms)
	if _, err := io.Copy(m, r); err != nil {
		tmp.Close()
		return deb.Artifact{}, err
	}
	if err := tmp.Close(); err != nil {
		return deb.Artifact{}, err
	}
	a := m.Artifact("")
	dst := s.Path(a.SHA256)
	if _, err := os.Stat(dst); err == nil {
		return a, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return deb.Artifact{}, err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return deb.Artifact{}, err
	}
	return a, os.Rename(tmp.Name(), dst)
}

// PutFile copies the file at path into the store.
func (s DirStore) PutFile(path string) (deb.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return deb.Artifact{}, err
	}
	defer f.Close()
	a, err := s.Put(f)
	if err != nil {
		return deb.Artifact{}, fmt.Errorf("storing %s: %w", path, err)
	}
	a.RelativePath = filepath.Base(path)
	return a, nil
}

// MapStore maps sha256 digests to local files.
type MapStore map[string]string

// Open implements Store.
func (s MapStore) Open(sha256 string) (io.ReadCloser, error) {
	p, ok := s[sha256]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sha256)
	}
	return os.Open(p)
}

// Locate implements Locator.
func (s MapStore) Locate(sha256 string) (string, bool) {
	p, ok := s[sha256]
	return p, ok
}
