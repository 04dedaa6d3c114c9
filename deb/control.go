package deb

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ReadControl iterates through the AR archive structure of a .deb file to
// locate the control.tar member (plain, gzip, xz or zstd compressed), and
// returns the content of the 'control' file found within it.
func ReadControl(r io.Reader) (string, error) {
	arR := ar.NewReader(r)
	for {
		header, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		name := strings.TrimSuffix(header.Name, "/")
		if !strings.HasPrefix(name, string(PkgControlTar)) {
			continue
		}

		var tr *tar.Reader
		switch filepath.Ext(name) {
		case ".tar":
			tr = tar.NewReader(arR)
		case ".gz":
			gzr, err := gzip.NewReader(arR)
			if err != nil {
				return "", err
			}
			defer gzr.Close()
			tr = tar.NewReader(gzr)
		case ".xz":
			xzr, err := xz.NewReader(arR)
			if err != nil {
				return "", err
			}
			tr = tar.NewReader(xzr)
		case ".zst":
			zr, err := zstd.NewReader(arR)
			if err != nil {
				return "", err
			}
			defer zr.Close()
			tr = tar.NewReader(zr)
		default:
			return "", fmt.Errorf("unsupported control archive compression %q", name)
		}

		for {
			th, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", err
			}
			if filepath.Base(th.Name) == string(FileControl) {
				var b strings.Builder
				if _, err := io.Copy(&b, tr); err != nil {
					return "", err
				}
				return b.String(), nil
			}
		}
	}
	return "", fmt.Errorf("control file not found")
}

// ReadPackage reads the .deb (or .udeb) file at path and returns its record:
// the decoded control paragraph, and the size and digests of the file.
func ReadPackage(path string) (*PackageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := NewMultiHasher(nil, AllAlgorithms)
	control, err := ReadControl(io.TeeReader(f, m))
	if err != nil {
		return nil, fmt.Errorf("reading control of %s: %w", path, err)
	}
	// hash the remainder of the archive
	if _, err := io.Copy(m, f); err != nil {
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}

	p, err := ParseParagraph(control)
	if err != nil {
		return nil, fmt.Errorf("parsing control of %s: %w", path, err)
	}
	rec, err := DecodePackage(p)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".udeb") {
		rec.Kind = KindInstallerPackage
	}
	rec.Artifact = m.Artifact(filepath.Base(path))
	return rec, nil
}
