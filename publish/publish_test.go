package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/etnz/apt-publish/apt"
	"github.com/etnz/apt-publish/catalog"
	"github.com/etnz/apt-publish/deb"
	"github.com/etnz/apt-publish/deb/debtest"
)

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

// scan builds a snapshot from .deb files written in a temporary directory.
func scan(t *testing.T, controls ...string) (*catalog.Snapshot, catalog.MapStore) {
	t.Helper()
	dir := t.TempDir()
	for i, c := range controls {
		debtest.WriteDeb(t, dir, fmt.Sprintf("%02d.deb", i), c)
	}
	snap, store, err := catalog.ScanDebs(dir)
	if err != nil {
		t.Fatalf("ScanDebs failed: %v", err)
	}
	snap.Repository = catalog.Repository{Name: "myrepo", Version: 1}
	return snap, store
}

func TestBuildSimple(t *testing.T) {
	snap, store := scan(t, debtest.Control("foo", "1.0", "amd64"))
	out := filepath.Join(t.TempDir(), "tree")
	pub, err := New(Options{Simple: true, Store: store, Now: fixedNow}).Build(context.Background(), snap, out)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	packages, err := os.ReadFile(filepath.Join(out, "dists/default/all/binary-amd64/Packages"))
	if err != nil {
		t.Fatal(err)
	}
	ps, err := deb.ReadParagraphs(bytes.NewReader(packages))
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 1 || ps[0].Value("Filename") != "pool/all/f/foo/foo_1.0_amd64.deb" {
		t.Fatalf("unexpected Packages:\n%s", packages)
	}
	if ps[0].Value("SHA256") != snap.Packages[0].Artifact.SHA256 {
		t.Errorf("Packages does not carry the package digest")
	}

	pooled, err := os.ReadFile(filepath.Join(out, "pool/all/f/foo/foo_1.0_amd64.deb"))
	if err != nil {
		t.Fatalf("pool file missing: %v", err)
	}
	original, _ := os.ReadFile(store[snap.Packages[0].ID])
	if !bytes.Equal(pooled, original) {
		t.Errorf("pool file differs from the stored package")
	}

	if err := apt.VerifyTree(out, "default"); err != nil {
		t.Errorf("VerifyTree failed: %v", err)
	}
	rel := pub.Releases[0].Paragraph
	if rel.Value("Architectures") != "amd64 all" || rel.Value("Components") != "all" || rel.Value("Label") != "myrepo" {
		t.Errorf("unexpected Release:\n%s", rel)
	}
	if rel.Value("Origin") != DefaultOrigin || rel.Value("Version") != "1" {
		t.Errorf("unexpected Release:\n%s", rel)
	}
	if len(pub.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", pub.Warnings)
	}
}

func TestBuildStructuredMissingMember(t *testing.T) {
	snap, _ := scan(t, debtest.Control("foo", "1.0", "amd64"), debtest.Control("bar", "1.0", "all"))
	snap.Releases = []catalog.Release{{ID: "r1", Distribution: "bookworm", Suite: "stable"}}
	snap.Architectures = []catalog.ReleaseArchitecture{{ID: "a1", ReleaseID: "r1", Architecture: "amd64"}}
	snap.Components = []catalog.ReleaseComponent{
		{ID: "main", ReleaseID: "r1", Component: "main"},
		{ID: "contrib", ReleaseID: "r1", Component: "contrib"},
	}
	snap.PackageMemberships = []catalog.Membership{
		{ComponentID: "main", ContentID: snap.Packages[0].ID},
		{ComponentID: "main", ContentID: "deadbeef"},
		{ComponentID: "contrib", ContentID: snap.Packages[1].ID},
	}

	out := t.TempDir()
	pub, err := New(Options{Structured: true, Now: fixedNow}).Build(context.Background(), snap, out)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(pub.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", pub.Warnings)
	}
	w := pub.Warnings[0]
	if w.Distribution != "bookworm" || w.Component != "main" || w.Record != "deadbeef" {
		t.Errorf("unexpected warning %+v", w)
	}

	main, err := os.ReadFile(filepath.Join(out, "dists/bookworm/main/binary-amd64/Packages"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(main), "deadbeef") || !strings.Contains(string(main), "Package: foo") {
		t.Errorf("unexpected main Packages:\n%s", main)
	}
	contrib, err := os.ReadFile(filepath.Join(out, "dists/bookworm/contrib/binary-all/Packages"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(contrib), "Filename: pool/contrib/b/bar/bar_1.0_all.deb") {
		t.Errorf("unexpected contrib Packages:\n%s", contrib)
	}
	if got := pub.Releases[0].Paragraph.Value("Suite"); got != "stable" {
		t.Errorf("unexpected Suite %q", got)
	}
	// no store: the pool is not materialized
	if _, err := os.Stat(filepath.Join(out, "pool")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("pool must not be written without a store")
	}
	if err := apt.VerifyTree(out, "bookworm"); err != nil {
		t.Errorf("VerifyTree failed: %v", err)
	}
}

func TestBuildPlanErrors(t *testing.T) {
	snap, _ := scan(t, debtest.Control("foo", "1.0", "amd64"))
	if _, err := New(Options{}).Build(context.Background(), snap, t.TempDir()); err == nil {
		t.Errorf("expected an error when no mode is enabled")
	}

	snap.Releases = []catalog.Release{{ID: "r1", Distribution: "default"}}
	_, err := New(Options{Simple: true, Structured: true}).Build(context.Background(), snap, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "published twice") {
		t.Errorf("expected a duplicate distribution error, got %v", err)
	}

	for _, d := range []string{"../../escaped", "default/", "/stable", "stable//updates"} {
		snap.Releases = []catalog.Release{{ID: "r1", Distribution: d}}
		parent := t.TempDir()
		_, err := New(Options{Structured: true}).Build(context.Background(), snap, filepath.Join(parent, "a", "tree"))
		if err == nil {
			t.Errorf("distribution %q was accepted", d)
		}
		if got := entries(t, parent); len(got) != 0 {
			t.Errorf("distribution %q wrote %v", d, got)
		}
	}
}

func TestBuildSkipsEscapingPoolPaths(t *testing.T) {
	snap, store := scan(t, debtest.Control("foo", "1.0", "amd64"), debtest.Control("bar", "1.0", "amd64"))
	snap.Packages[0].Source = "../../../../outside"
	parent := t.TempDir()
	out := filepath.Join(parent, "a", "b", "tree")

	pub, err := New(Options{Simple: true, Store: store, Now: fixedNow}).Build(context.Background(), snap, out)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(pub.Warnings) != 1 || pub.Warnings[0].Record != "foo_1.0_amd64" {
		t.Errorf("expected one warning for foo, got %v", pub.Warnings)
	}
	for _, a := range pub.Artifacts {
		if strings.Contains(a.RelativePath, "..") {
			t.Errorf("escaping artifact %s", a.RelativePath)
		}
	}
	if got := entries(t, parent); len(got) != 1 || got[0] != "a" {
		t.Errorf("files written outside the tree: %v", got)
	}
	if got := entries(t, filepath.Join(parent, "a")); len(got) != 1 || got[0] != "b" {
		t.Errorf("files written outside the tree: %v", got)
	}
	if err := apt.VerifyTree(out, "default"); err != nil {
		t.Errorf("VerifyTree failed: %v", err)
	}
}

func TestBuildDeterministic(t *testing.T) {
	snap, _ := scan(t,
		debtest.Control("foo", "1.0", "amd64"),
		debtest.Control("libbar1", "2.0", "arm64"),
		debtest.Control("baz", "1.0", "all"))
	snap.Releases = []catalog.Release{{ID: "r1", Distribution: "stable"}, {ID: "r2", Distribution: "testing"}}
	snap.Components = []catalog.ReleaseComponent{
		{ID: "c1", ReleaseID: "r1", Component: "main"},
		{ID: "c2", ReleaseID: "r2", Component: "main"},
	}
	for _, p := range snap.Packages {
		snap.PackageMemberships = append(snap.PackageMemberships,
			catalog.Membership{ComponentID: "c1", ContentID: p.ID},
			catalog.Membership{ComponentID: "c2", ContentID: p.ID})
	}

	build := func(workers int) string {
		out := t.TempDir()
		_, err := New(Options{Simple: true, Structured: true, Workers: workers, Now: fixedNow}).Build(context.Background(), snap, out)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		return out
	}
	a, b := build(1), build(4)
	for _, rel := range []string{
		"dists/default/Release",
		"dists/default/all/binary-arm64/Packages",
		"dists/stable/Release",
		"dists/testing/main/binary-all/Packages.gz",
	} {
		ca, err := os.ReadFile(filepath.Join(a, rel))
		if err != nil {
			t.Fatal(err)
		}
		cb, err := os.ReadFile(filepath.Join(b, rel))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(ca, cb) {
			t.Errorf("%s differs between sequential and concurrent builds", rel)
		}
	}
	packages, _ := os.ReadFile(filepath.Join(a, "dists/default/all/binary-arm64/Packages"))
	if !strings.Contains(string(packages), "Filename: pool/all/libb/libbar1/libbar1_2.0_arm64.deb") {
		t.Errorf("unexpected Packages:\n%s", packages)
	}
}

func TestBuildSources(t *testing.T) {
	dir := t.TempDir()
	tarball := []byte("native source")
	debtest.WriteFile(t, dir, "foo_1.0.tar.xz", tarball)
	debtest.WriteFile(t, dir, "foo_1.0.dsc", []byte(debtest.Dsc("foo", "1.0", map[string][]byte{"foo_1.0.tar.xz": tarball})))
	snap, store, err := catalog.ScanDebs(dir)
	if err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	pub, err := New(Options{Simple: true, Store: store, Now: fixedNow}).Build(context.Background(), snap, out)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	sources, err := os.ReadFile(filepath.Join(out, "dists/default/all/source/Sources"))
	if err != nil {
		t.Fatal(err)
	}
	ps, err := deb.ReadParagraphs(bytes.NewReader(sources))
	if err != nil || len(ps) != 1 {
		t.Fatalf("unexpected Sources %q: %v", sources, err)
	}
	if ps[0].Value("Package") != "foo" || ps[0].Value("Directory") != "pool/all/f/foo" {
		t.Errorf("unexpected Sources paragraph:\n%s", ps[0])
	}
	for _, rel := range []string{"pool/all/f/foo/foo_1.0.dsc", "pool/all/f/foo/foo_1.0.tar.xz"} {
		if _, err := os.Stat(filepath.Join(out, rel)); err != nil {
			t.Errorf("%s not materialized: %v", rel, err)
		}
	}
	// no binary package: only binary-all is declared
	if got := pub.Releases[0].Paragraph.Value("Architectures"); got != "all" {
		t.Errorf("unexpected Architectures %q", got)
	}

	// a source package whose constituent is absent is fatal
	snap.SourceFiles = nil
	if _, err := New(Options{Simple: true}).Build(context.Background(), snap, t.TempDir()); err == nil {
		t.Errorf("expected a missing constituent error")
	} else {
		var me *apt.MissingConstituentError
		if !errors.As(err, &me) {
			t.Errorf("expected a MissingConstituentError, got %v", err)
		}
	}
}

func TestDedupe(t *testing.T) {
	pool := func(path, digest string) apt.PublishedArtifact {
		return apt.PublishedArtifact{RelativePath: path, Kind: apt.KindPool, Content: deb.Artifact{SHA256: digest}}
	}
	got, err := dedupe([]apt.PublishedArtifact{
		pool("pool/main/f/foo/foo.deb", "a"),
		{RelativePath: "dists/a/Release", Kind: apt.KindMetadata},
		pool("pool/main/f/foo/foo.deb", "a"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 artifacts, got %d", len(got))
	}
	if _, err := dedupe([]apt.PublishedArtifact{pool("p", "a"), pool("p", "b")}); err == nil {
		t.Errorf("expected a conflict error")
	}
}

type brokenStore struct{}

func (brokenStore) Open(string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("something else")), nil
}

func TestMaterializeChecksContent(t *testing.T) {
	snap, _ := scan(t, debtest.Control("foo", "1.0", "amd64"))
	_, err := New(Options{Simple: true, Store: brokenStore{}}).Build(context.Background(), snap, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "store returned content") {
		t.Errorf("expected a digest mismatch, got %v", err)
	}
}

func TestMaterializeStaysInTree(t *testing.T) {
	_, store := scan(t, debtest.Control("foo", "1.0", "amd64"))
	var sha string
	for k := range store {
		sha = k
	}
	parent := t.TempDir()
	dir := filepath.Join(parent, "tree")
	a := apt.PublishedArtifact{RelativePath: "../outside.deb", Kind: apt.KindPool, Content: deb.Artifact{SHA256: sha}}
	err := New(Options{Store: store}).materialize(context.Background(), dir, []apt.PublishedArtifact{a})
	if err == nil {
		t.Errorf("expected an error for a path leaving the tree")
	}
	if _, err := os.Stat(filepath.Join(parent, "outside.deb")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file written outside the tree")
	}
}

func TestBuildFiles(t *testing.T) {
	snap, _ := scan(t, debtest.Control("foo", "1.0", "amd64"))
	out := t.TempDir()
	pub, err := New(Options{Simple: true, Files: map[string][]byte{"public.asc": []byte("KEY")}}).Build(context.Background(), snap, out)
	if err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(filepath.Join(out, "public.asc")); string(b) != "KEY" {
		t.Errorf("public.asc not written")
	}
	last := pub.Artifacts[len(pub.Artifacts)-1]
	if last.RelativePath != "public.asc" || last.Kind != apt.KindMetadata || last.Content.Size != 3 {
		t.Errorf("unexpected artifact %+v", last)
	}

	_, err = New(Options{Simple: true, Files: map[string][]byte{"../escape": nil}}).Build(context.Background(), snap, t.TempDir())
	if err == nil {
		t.Errorf("expected an error for an invalid file name")
	}
}

// scanTree builds a snapshot from files laid out below a temporary directory.
func scanTree(t *testing.T, files map[string][]byte) (*catalog.Snapshot, catalog.MapStore) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		debtest.WriteFile(t, dir, name, content)
	}
	snap, store, err := catalog.ScanDebs(dir)
	if err != nil {
		t.Fatalf("ScanDebs failed: %v", err)
	}
	return snap, store
}

func TestBuildVerbatim(t *testing.T) {
	tarball := []byte("native source")
	layout := map[string][]byte{
		"main/foo_1.0_amd64.deb": debtest.Deb(t, debtest.Control("foo", "1.0", "amd64")),
		"dists/bar_1.0_all.deb":  debtest.Deb(t, debtest.Control("bar", "1.0", "all")),
		"extra/baz_1.0_all.deb":  debtest.Deb(t, debtest.Control("baz", "1.0", "all")),
		"src/foo_1.0.tar.xz":     tarball,
		"src/foo_1.0.dsc":        []byte(debtest.Dsc("foo", "1.0", map[string][]byte{"foo_1.0.tar.xz": tarball})),
	}
	snap, store := scanTree(t, layout)

	t.Run("with simple", func(t *testing.T) {
		out := t.TempDir()
		opts := Options{Simple: true, Verbatim: true, Store: store, Now: fixedNow, Files: map[string][]byte{"extra": []byte("x")}}
		pub, err := New(opts).Build(context.Background(), snap, out)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		skipped := map[string]bool{}
		for _, w := range pub.Warnings {
			skipped[w.Record] = true
		}
		if len(pub.Warnings) != 2 || !skipped["bar_1.0_all"] || !skipped["baz_1.0_all"] {
			t.Errorf("expected warnings for bar and baz, got %v", pub.Warnings)
		}
		for _, rel := range []string{"main/foo_1.0_amd64.deb", "src/foo_1.0.dsc", "src/foo_1.0.tar.xz"} {
			got, err := os.ReadFile(filepath.Join(out, rel))
			if err != nil {
				t.Errorf("%s not materialized: %v", rel, err)
				continue
			}
			if !bytes.Equal(got, layout[rel]) {
				t.Errorf("%s differs from the ingested file", rel)
			}
		}
		if _, err := os.Stat(filepath.Join(out, "dists/bar_1.0_all.deb")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("verbatim file written below dists")
		}
		if b, _ := os.ReadFile(filepath.Join(out, "extra")); string(b) != "x" {
			t.Errorf("root file overwritten: %q", b)
		}
		// the pool is published as well
		if _, err := os.Stat(filepath.Join(out, "pool/all/b/bar/bar_1.0_all.deb")); err != nil {
			t.Errorf("pool file missing: %v", err)
		}
		if err := apt.VerifyTree(out, "default"); err != nil {
			t.Errorf("VerifyTree failed: %v", err)
		}
	})

	t.Run("alone", func(t *testing.T) {
		out := t.TempDir()
		pub, err := New(Options{Verbatim: true, Store: store}).Build(context.Background(), snap, out)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if len(pub.Releases) != 0 || len(pub.Warnings) != 1 {
			t.Errorf("expected no release and one warning, got %d releases and %v", len(pub.Releases), pub.Warnings)
		}
		if got := entries(t, out); strings.Join(got, " ") != "extra main src" {
			t.Errorf("unexpected tree %v", got)
		}
		for _, a := range pub.Artifacts {
			if a.Kind != apt.KindPool {
				t.Errorf("unexpected artifact %+v", a)
			}
		}
	})
}

func TestBuildVerbatimPaths(t *testing.T) {
	snap, store := scan(t, debtest.Control("foo", "1.0", "amd64"), debtest.Control("bar", "1.0", "amd64"))
	for _, rel := range []string{"../escape.deb", "/abs.deb", "", "a/../../b.deb"} {
		snap.Packages[0].Artifact.RelativePath = rel
		parent := t.TempDir()
		out := filepath.Join(parent, "tree")
		pub, err := New(Options{Verbatim: true, Store: store}).Build(context.Background(), snap, out)
		if err != nil {
			t.Fatalf("Build failed for %q: %v", rel, err)
		}
		if len(pub.Warnings) != 1 || pub.Warnings[0].Record != "foo_1.0_amd64" {
			t.Errorf("path %q: expected one warning for foo, got %v", rel, pub.Warnings)
		}
		if got := entries(t, parent); len(got) != 1 || got[0] != "tree" {
			t.Errorf("path %q: files written outside the tree: %v", rel, got)
		}
	}

	// a verbatim path holding other content than the pool file at the same path
	snap.Packages[0].Artifact.RelativePath = "pool/all/b/bar/bar_1.0_amd64.deb"
	_, err := New(Options{Simple: true, Verbatim: true, Store: store}).Build(context.Background(), snap, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "is published with content") {
		t.Errorf("expected a conflicting path error, got %v", err)
	}
}
