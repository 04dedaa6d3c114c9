// Package debtest builds small Debian archives and source packages for tests.
package debtest

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Control returns a minimal valid control paragraph.
func Control(name, version, arch string) string {
	return fmt.Sprintf("Package: %s\nVersion: %s\nArchitecture: %s\nMaintainer: Jane <jane@example.com>\nDescription: %s package\n", name, version, arch, name)
}

// Deb returns a .deb archive holding control and a small data member.
func Deb(t testing.TB, control string) []byte {
	t.Helper()
	return DebCompressed(t, control, "gz")
}

// DebCompressed is like Deb with the control member compressed as named by
// compression: "" (plain tar), "gz", "xz" or "zst".
func DebCompressed(t testing.TB, control, compression string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	if err := w.WriteGlobalHeader(); err != nil {
		t.Fatal(err)
	}
	add := func(name string, body []byte) {
		hdr := &ar.Header{Name: name, Size: int64(len(body)), Mode: 0644, ModTime: time.Unix(0, 0)}
		if err := w.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	add("debian-binary", []byte("2.0\n"))

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	if err := tw.WriteHeader(&tar.Header{Name: "./control", Mode: 0644, Size: int64(len(control)), ModTime: time.Unix(0, 0)}); err != nil {
		t.Fatal(err)
	}
	tw.Write([]byte(control))
	tw.Close()

	name := "control.tar"
	body := tarBuf.Bytes()
	if compression != "" {
		var cBuf bytes.Buffer
		var cw io.WriteCloser
		var err error
		switch compression {
		case "gz":
			cw = gzip.NewWriter(&cBuf)
		case "xz":
			cw, err = xz.NewWriter(&cBuf)
		case "zst":
			cw, err = zstd.NewWriter(&cBuf)
		default:
			t.Fatalf("unknown compression %q", compression)
		}
		if err != nil {
			t.Fatal(err)
		}
		if _, err := cw.Write(body); err != nil {
			t.Fatal(err)
		}
		if err := cw.Close(); err != nil {
			t.Fatal(err)
		}
		name += "." + compression
		body = cBuf.Bytes()
	}
	add(name, body)
	add("data.tar.gz", []byte("payload of "+control))
	return buf.Bytes()
}

// WriteDeb writes a .deb built from control into dir and returns its path.
func WriteDeb(t testing.TB, dir, name, control string) string {
	t.Helper()
	return WriteFile(t, dir, name, Deb(t, control))
}

// WriteFile writes content to dir/name, creating dir.
func WriteFile(t testing.TB, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Dsc returns the .dsc text of a native source package made of files.
func Dsc(source, version string, files map[string][]byte) string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	var sha, md strings.Builder
	for _, n := range names {
		s := sha256.Sum256(files[n])
		m := md5.Sum(files[n])
		fmt.Fprintf(&sha, "\n %s %d %s", hex.EncodeToString(s[:]), len(files[n]), n)
		fmt.Fprintf(&md, "\n %s %d %s", hex.EncodeToString(m[:]), len(files[n]), n)
	}
	return "Format: 3.0 (native)\n" +
		"Source: " + source + "\n" +
		"Binary: " + source + "\n" +
		"Architecture: any\n" +
		"Version: " + version + "\n" +
		"Maintainer: Jane <jane@example.com>\n" +
		"Standards-Version: 4.6.0\n" +
		"Checksums-Sha256:" + sha.String() + "\n" +
		"Files:" + md.String() + "\n"
}
