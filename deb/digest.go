package deb

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"slices"
	"strings"
)

// Algorithm is a digest algorithm used in indices and Release files.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// AllAlgorithms lists the supported algorithms in the order their fields
// appear in Packages and Release files.
var AllAlgorithms = []Algorithm{MD5, SHA1, SHA256, SHA512}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

// PackageField returns the name of the digest field in a Packages paragraph.
func (a Algorithm) PackageField() ControlField {
	switch a {
	case MD5:
		return FieldMD5sum
	case SHA1:
		return FieldSHA1
	case SHA512:
		return FieldSHA512
	default:
		return FieldSHA256
	}
}

// ReleaseField returns the name of the checksum list in a Release file.
func (a Algorithm) ReleaseField() ReleaseField {
	switch a {
	case MD5:
		return RelMD5Sum
	case SHA1:
		return RelSHA1
	case SHA512:
		return RelSHA512
	default:
		return RelSHA256
	}
}

// ParseAlgorithms validates a checksum policy. Names are case insensitive,
// duplicates are removed and the result is in canonical order. An empty
// list selects every algorithm. sha256 is mandatory.
func ParseAlgorithms(names []string) ([]Algorithm, error) {
	if len(names) == 0 {
		return slices.Clone(AllAlgorithms), nil
	}
	seen := make(map[Algorithm]bool)
	for _, n := range names {
		a := Algorithm(strings.ToLower(strings.TrimSpace(n)))
		if !slices.Contains(AllAlgorithms, a) {
			return nil, fmt.Errorf("unsupported checksum algorithm %q", n)
		}
		seen[a] = true
	}
	if !seen[SHA256] {
		return nil, fmt.Errorf("checksum algorithm %q is mandatory", SHA256)
	}
	var res []Algorithm
	for _, a := range AllAlgorithms {
		if seen[a] {
			res = append(res, a)
		}
	}
	return res, nil
}

// Digests maps an algorithm to a lowercase hex digest.
type Digests map[Algorithm]string

// MultiHasher is an io.Writer that computes several digests and counts the
// bytes of everything written through it, forwarding to an optional writer.
type MultiHasher struct {
	w      io.Writer
	algs   []Algorithm
	hashes []hash.Hash
	size   int64
}

// NewMultiHasher returns a MultiHasher forwarding to w (which may be nil).
func NewMultiHasher(w io.Writer, algs []Algorithm) *MultiHasher {
	m := &MultiHasher{w: w, algs: algs}
	for _, a := range algs {
		m.hashes = append(m.hashes, a.New())
	}
	return m
}

// Write implements io.Writer.
func (m *MultiHasher) Write(p []byte) (int, error) {
	n := len(p)
	if m.w != nil {
		var err error
		n, err = m.w.Write(p)
		if err != nil {
			p = p[:n]
			m.update(p)
			return n, err
		}
	}
	m.update(p)
	return n, nil
}

func (m *MultiHasher) update(p []byte) {
	for _, h := range m.hashes {
		h.Write(p)
	}
	m.size += int64(len(p))
}

// Size returns the number of bytes written.
func (m *MultiHasher) Size() int64 { return m.size }

// Digests returns the hex digests of everything written so far.
func (m *MultiHasher) Digests() Digests {
	d := make(Digests, len(m.algs))
	for i, a := range m.algs {
		d[a] = hex.EncodeToString(m.hashes[i].Sum(nil))
	}
	return d
}

// Artifact describes everything written so far as the artifact rel.
func (m *MultiHasher) Artifact(rel string) Artifact {
	a := Artifact{RelativePath: rel, Size: m.size}
	for alg, d := range m.Digests() {
		a.SetDigest(alg, d)
	}
	return a
}

// HashFile computes the size and digests of the file at path.
func HashFile(path string, algs []Algorithm) (int64, Digests, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	m := NewMultiHasher(nil, algs)
	if _, err := io.Copy(m, f); err != nil {
		return 0, nil, fmt.Errorf("hashing %s: %w", path, err)
	}
	return m.Size(), m.Digests(), nil
}
