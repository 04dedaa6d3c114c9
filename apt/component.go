package apt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/etnz/apt-publish/deb"
	"github.com/klauspost/compress/gzip"
)

// SourceFileResolver finds a source constituent of the snapshot by its sha256 digest.
type SourceFileResolver func(sha256 string) (*deb.SourceFile, bool)

// indexFile is an open Packages or Sources stream.
type indexFile struct {
	rel string // relative to the release directory
	f   *os.File
	w   *bufio.Writer
	h   *deb.MultiHasher
}

// ComponentIndex writes the Packages and Sources indices of one component of a release.
//
// Packages files are opened on first use. Finish creates the missing ones so
// that every architecture the release declares has an index.
type ComponentIndex struct {
	distribution  string
	releaseDir    string
	component     string
	plain         string
	architectures []string
	algs          []deb.Algorithm
	resolve       SourceFileResolver
	// invalid is set when component cannot name a directory.
	invalid       error

	packages  map[string]*indexFile
	sources   *indexFile
	artifacts []PublishedArtifact
	finished  bool
}

// NewComponentIndex returns the builder for component of the release rooted
// at releaseDir (the dists/<distribution> directory).
//
// Architectures that cannot name a directory are ignored. An invalid
// component makes every record an IntegrityError.
func NewComponentIndex(distribution, releaseDir, component string, architectures []string, algs []deb.Algorithm, resolve SourceFileResolver) *ComponentIndex {
	var archs []string
	for _, a := range architectures {
		if deb.CheckName("architecture", a) == nil {
			archs = append(archs, a)
		}
	}
	return &ComponentIndex{
		distribution:  distribution,
		releaseDir:    releaseDir,
		component:     component,
		plain:         PlainComponent(component),
		architectures: archs,
		algs:          algs,
		resolve:       resolve,
		invalid:       deb.CheckPath("component", component),
		packages:      make(map[string]*indexFile),
	}
}

// reject returns the IntegrityError skipping record for reason.
func (c *ComponentIndex) reject(record string, reason error) error {
	return &IntegrityError{
		Distribution: c.distribution,
		Component:    c.component,
		Record:       record,
		Reason:       reason.Error(),
	}
}

// PlainComponent returns the leaf of a component path, used for directory naming.
// A release stored at dists/stable/updates may declare "updates/main", whose plain name is "main".
func PlainComponent(component string) string {
	return path.Base(component)
}

// Component returns the full component name.
func (c *ComponentIndex) Component() string { return c.component }

// AddPackage appends the index paragraph of rec to the Packages file of its
// architecture and registers the package at its pool path.
func (c *ComponentIndex) AddPackage(rec *deb.PackageRecord) error {
	if c.invalid != nil {
		return c.reject(rec.Name(), c.invalid)
	}
	if !slices.Contains(c.architectures, rec.Architecture) {
		return &IntegrityError{
			Distribution: c.distribution,
			Component:    c.component,
			Record:       rec.Name(),
			Reason:       fmt.Sprintf("architecture %q is not declared by the release", rec.Architecture),
		}
	}
	if err := rec.CheckPoolPath(c.component); err != nil {
		return c.reject(rec.Name(), err)
	}
	p, err := rec.IndexParagraph(c.component, c.algs)
	if err != nil {
		return &EncodingError{Distribution: c.distribution, Component: c.component, Record: rec.Name(), Err: err}
	}
	f, err := c.packagesFile(rec.Architecture)
	if err != nil {
		return err
	}
	if err := writeParagraph(f, p); err != nil {
		return err
	}
	c.artifacts = append(c.artifacts, PublishedArtifact{
		RelativePath: rec.PoolPath(c.component),
		Kind:         KindPool,
		Content:      rec.Artifact,
	})
	return nil
}

// AddSourceControlFile appends the Sources paragraph of rec and registers the
// .dsc at its pool path. Every file listed in Checksums-Sha256 must be part of the snapshot.
func (c *ComponentIndex) AddSourceControlFile(rec *deb.SourceRecord) error {
	name := rec.DscName()
	if c.invalid != nil {
		return c.reject(name, c.invalid)
	}
	if err := rec.CheckPoolPath(c.component); err != nil {
		return c.reject(name, err)
	}
	p, err := rec.IndexParagraph(c.component)
	if err != nil {
		return &EncodingError{Distribution: c.distribution, Component: c.component, Record: name, Err: err}
	}
	for _, e := range rec.ChecksumsSha256 {
		if c.resolve == nil {
			break
		}
		if _, ok := c.resolve(e.Digest); !ok {
			return &MissingConstituentError{Source: name, Name: e.Name, SHA256: e.Digest}
		}
	}
	f, err := c.sourcesFile()
	if err != nil {
		return err
	}
	if err := writeParagraph(f, p); err != nil {
		return err
	}
	c.artifacts = append(c.artifacts, PublishedArtifact{
		RelativePath: rec.PoolPath(c.component),
		Kind:         KindPool,
		Content:      rec.Artifact,
	})
	return nil
}

// AddSourceFile registers a source constituent at its pool path.
func (c *ComponentIndex) AddSourceFile(rec *deb.SourceFile) error {
	if c.invalid != nil {
		return c.reject(rec.Name, c.invalid)
	}
	if err := rec.CheckPoolPath(c.component); err != nil {
		return c.reject(rec.Name, err)
	}
	if rec.Artifact.SHA256 == "" {
		return &EncodingError{Distribution: c.distribution, Component: c.component, Record: rec.Name, Err: fmt.Errorf("artifact digest is missing")}
	}
	c.artifacts = append(c.artifacts, PublishedArtifact{
		RelativePath: rec.PoolPath(c.component),
		Kind:         KindPool,
		Content:      rec.Artifact,
	})
	return nil
}

// Finish closes every stream, writes the gzip sibling of each index and
// returns the component report. Every declared architecture gets a Packages
// file and the component always gets a Sources file, even when empty.
func (c *ComponentIndex) Finish() (ComponentReport, error) {
	if c.finished {
		return ComponentReport{}, fmt.Errorf("component %s already finished", c.component)
	}
	if c.invalid != nil {
		return ComponentReport{}, c.invalid
	}
	c.finished = true

	var files []*indexFile
	for _, arch := range c.architectures {
		f, err := c.packagesFile(arch)
		if err != nil {
			c.Close()
			return ComponentReport{}, err
		}
		files = append(files, f)
	}
	sf, err := c.sourcesFile()
	if err != nil {
		c.Close()
		return ComponentReport{}, err
	}
	files = append(files, sf)

	report := ComponentReport{Component: c.component}
	for _, f := range files {
		plain, gz, err := c.closeIndex(f)
		if err != nil {
			c.Close()
			return ComponentReport{}, err
		}
		report.Files = append(report.Files, plain, gz)
	}
	report.Artifacts = slices.Clone(c.artifacts)
	return report, nil
}

// Close releases every open stream without producing a report.
func (c *ComponentIndex) Close() {
	for _, f := range c.packages {
		if f.f != nil {
			f.f.Close()
			f.f = nil
		}
	}
	if c.sources != nil && c.sources.f != nil {
		c.sources.f.Close()
		c.sources.f = nil
	}
}

func (c *ComponentIndex) packagesFile(arch string) (*indexFile, error) {
	if f, ok := c.packages[arch]; ok {
		return f, nil
	}
	f, err := c.open(path.Join(c.plain, "binary-"+arch, "Packages"))
	if err != nil {
		return nil, err
	}
	c.packages[arch] = f
	return f, nil
}

func (c *ComponentIndex) sourcesFile() (*indexFile, error) {
	if c.sources != nil {
		return c.sources, nil
	}
	f, err := c.open(path.Join(c.plain, "source", "Sources"))
	if err != nil {
		return nil, err
	}
	c.sources = f
	return f, nil
}

func (c *ComponentIndex) open(rel string) (*indexFile, error) {
	p := filepath.Join(c.releaseDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, err
	}
	h := deb.NewMultiHasher(f, c.algs)
	return &indexFile{rel: rel, f: f, w: bufio.NewWriter(h), h: h}, nil
}

// closeIndex flushes and closes f, then compresses it into f.gz.
func (c *ComponentIndex) closeIndex(f *indexFile) (FileReport, FileReport, error) {
	if err := f.w.Flush(); err != nil {
		return FileReport{}, FileReport{}, fmt.Errorf("writing %s: %w", f.rel, err)
	}
	if err := f.f.Close(); err != nil {
		return FileReport{}, FileReport{}, fmt.Errorf("closing %s: %w", f.rel, err)
	}
	f.f = nil
	plain := FileReport{Path: f.rel, Size: f.h.Size(), Digests: f.h.Digests()}

	gz, err := c.compress(f.rel)
	if err != nil {
		return FileReport{}, FileReport{}, err
	}
	return plain, gz, nil
}

// compress writes the gzip sibling of the plain file rel. The gzip header
// carries neither name nor modification time so that output is reproducible.
func (c *ComponentIndex) compress(rel string) (FileReport, error) {
	src := filepath.Join(c.releaseDir, filepath.FromSlash(rel))
	in, err := os.Open(src)
	if err != nil {
		return FileReport{}, err
	}
	defer in.Close()

	out, err := os.Create(src + ".gz")
	if err != nil {
		return FileReport{}, err
	}
	defer out.Close()

	h := deb.NewMultiHasher(out, c.algs)
	gw, err := gzip.NewWriterLevel(h, gzip.BestCompression)
	if err != nil {
		return FileReport{}, err
	}
	if _, err := io.Copy(gw, in); err != nil {
		return FileReport{}, fmt.Errorf("compressing %s: %w", rel, err)
	}
	if err := gw.Close(); err != nil {
		return FileReport{}, fmt.Errorf("compressing %s: %w", rel, err)
	}
	if err := out.Close(); err != nil {
		return FileReport{}, err
	}
	return FileReport{Path: rel + ".gz", Size: h.Size(), Digests: h.Digests()}, nil
}

// writeParagraph writes p followed by the blank separator line.
func writeParagraph(f *indexFile, p *deb.Paragraph) error {
	if _, err := p.WriteTo(f.w); err != nil {
		return fmt.Errorf("writing %s: %w", f.rel, err)
	}
	if err := f.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing %s: %w", f.rel, err)
	}
	return nil
}
