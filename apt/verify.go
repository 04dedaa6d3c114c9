package apt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/etnz/apt-publish/deb"
)

// ParseRelease reads the Release file of distribution below root and returns
// its paragraph and checksum rows per algorithm present.
func ParseRelease(root, distribution string) (*deb.Paragraph, map[deb.Algorithm][]ChecksumRow, error) {
	dir := filepath.Join(root, "dists", filepath.FromSlash(strings.Trim(distribution, "/")))
	content, err := os.ReadFile(filepath.Join(dir, "Release"))
	if err != nil {
		return nil, nil, err
	}
	p, err := deb.ParseParagraph(string(content))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing Release: %w", err)
	}
	rows := make(map[deb.Algorithm][]ChecksumRow)
	for _, a := range deb.AllAlgorithms {
		v, ok := p.Get(string(a.ReleaseField()))
		if !ok {
			continue
		}
		rows[a] = []ChecksumRow{}
		for _, line := range strings.Split(v, "\n") {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if len(fields) != 3 {
				return nil, nil, fmt.Errorf("%s: malformed row %q", a.ReleaseField(), strings.TrimSpace(line))
			}
			size, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: malformed size in row %q", a.ReleaseField(), strings.TrimSpace(line))
			}
			rows[a] = append(rows[a], ChecksumRow{Digest: fields[0], Size: size, Path: fields[2]})
		}
	}
	return p, rows, nil
}

// VerifyTree checks every checksum row of the Release file of distribution
// against the bytes on disk. All mismatches are reported in the returned error.
func VerifyTree(root, distribution string) error {
	_, rows, err := ParseRelease(root, distribution)
	if err != nil {
		return err
	}
	if _, ok := rows[deb.SHA256]; !ok {
		return fmt.Errorf("Release of %s has no %s list", distribution, deb.RelSHA256)
	}
	dir := filepath.Join(root, "dists", filepath.FromSlash(strings.Trim(distribution, "/")))

	type hashed struct {
		size    int64
		digests deb.Digests
		err     error
	}
	cache := make(map[string]hashed)
	var algs []deb.Algorithm
	for _, a := range deb.AllAlgorithms {
		if _, ok := rows[a]; ok {
			algs = append(algs, a)
		}
	}

	var errs []error
	for _, a := range algs {
		for _, row := range rows[a] {
			h, ok := cache[row.Path]
			if !ok {
				h.size, h.digests, h.err = deb.HashFile(filepath.Join(dir, filepath.FromSlash(row.Path)), algs)
				cache[row.Path] = h
			}
			switch {
			case h.err != nil:
				errs = append(errs, fmt.Errorf("%s: %w", row.Path, h.err))
			case h.size != row.Size:
				errs = append(errs, fmt.Errorf("%s: size %d on disk, %d in Release", row.Path, h.size, row.Size))
			case h.digests[a] != row.Digest:
				errs = append(errs, fmt.Errorf("%s: %s digest mismatch", row.Path, a))
			}
		}
	}
	return errors.Join(errs...)
}
