package apt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/etnz/apt-publish/deb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/etnz/apt-publish/apt")

// Descriptor names a release and what it declares.
type Descriptor struct {
	// Distribution is the path below dists/, e.g. "bookworm" or "stable/updates".
	Distribution string
	// Codename defaults to the first segment of Distribution.
	Codename string
	Suite    string
	// Architectures always gets "all" added.
	Architectures []string
	Components    []string

	Origin      string
	Label       string
	Version     string
	Description string
}

// Options configures a Release.
type Options struct {
	// Algorithms is the checksum policy. sha256 is required; nil selects every algorithm.
	Algorithms []deb.Algorithm
	// Signer signs the Release file. Nil publishes unsigned.
	Signer Signer
	// SourceFiles resolves source constituents. Nil disables the check.
	SourceFiles SourceFileResolver
	// Now returns the Release date. Nil uses time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// ChecksumRow is one line of a Release checksum list.
type ChecksumRow struct {
	Digest string
	Size   int64
	// Path is relative to the release directory.
	Path string
}

// ReleaseFile describes a finalized release.
type ReleaseFile struct {
	Distribution string
	// Paragraph is the rendered Release file.
	Paragraph *deb.Paragraph
	// Checksums holds the rows of each enabled algorithm, in Release order.
	Checksums map[deb.Algorithm][]ChecksumRow
	// Signatures maps a signature name to its path below the repository root.
	Signatures map[string]string
	Artifacts  []PublishedArtifact
	Warnings   []Warning
}

// Release assembles one dists/<distribution> tree. Records are collected with
// the Add methods, then Finalize writes the Release file and signs it.
type Release struct {
	root       string
	desc       Descriptor
	opts       Options
	paragraph  *deb.Paragraph
	components map[string]*ComponentIndex
	// rejected holds the reason why a declared component was dropped.
	rejected   map[string]string
	warnings   []Warning
	log        *slog.Logger
	finalized  bool
}

// NewRelease prepares the release described by d below the repository root.
func NewRelease(root string, d Descriptor, opts Options) (*Release, error) {
	if d.Distribution == "" {
		return nil, fmt.Errorf("release has no distribution")
	}
	if err := deb.CheckPath("distribution", d.Distribution); err != nil {
		return nil, err
	}
	if opts.Algorithms == nil {
		opts.Algorithms = deb.AllAlgorithms
	}
	if !slices.Contains(opts.Algorithms, deb.SHA256) {
		return nil, fmt.Errorf("checksum algorithm %q is mandatory", deb.SHA256)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Codename == "" {
		d.Codename = strings.Split(d.Distribution, "/")[0]
	}

	r := &Release{
		root:       root,
		opts:       opts,
		components: make(map[string]*ComponentIndex),
		rejected:   make(map[string]string),
		log:        opts.Logger.With("distribution", d.Distribution),
	}

	// names that cannot be used as directories are skipped with a warning
	var archs []string
	for _, a := range d.Architectures {
		if a == "" {
			continue
		}
		if err := deb.CheckName("architecture", a); err != nil {
			r.triage(&IntegrityError{Distribution: d.Distribution, Record: a, Reason: err.Error()})
			continue
		}
		archs = append(archs, a)
	}
	d.Architectures = uniqueArchitectures(archs)

	var components []string
	seen := make(map[string]bool)
	plain := make(map[string]string)
	for _, c := range d.Components {
		if seen[c] {
			return nil, fmt.Errorf("release %s declares component %q twice", d.Distribution, c)
		}
		seen[c] = true
		if err := deb.CheckPath("component", c); err != nil {
			r.rejected[c] = err.Error()
			r.triage(&IntegrityError{Distribution: d.Distribution, Component: c, Reason: err.Error()})
			continue
		}
		if other, ok := plain[PlainComponent(c)]; ok {
			return nil, fmt.Errorf("release %s: components %q and %q would share the directory %s", d.Distribution, other, c, PlainComponent(c))
		}
		plain[PlainComponent(c)] = c
		components = append(components, c)
	}
	d.Components = components
	r.desc = d
	r.paragraph = r.initialize()

	for _, c := range d.Components {
		r.components[c] = NewComponentIndex(d.Distribution, r.Dir(), c, d.Architectures, opts.Algorithms, opts.SourceFiles)
	}
	return r, nil
}

// uniqueArchitectures removes duplicates and appends "all" when missing.
func uniqueArchitectures(archs []string) []string {
	var res []string
	for _, a := range archs {
		if a != "" && !slices.Contains(res, a) {
			res = append(res, a)
		}
	}
	if !slices.Contains(res, "all") {
		res = append(res, "all")
	}
	return res
}

// initialize builds the Release paragraph skeleton. Field order follows the
// official Debian archives.
func (r *Release) initialize() *deb.Paragraph {
	d := r.desc
	p := deb.NewParagraph()
	p.Set(string(deb.RelOrigin), d.Origin)
	p.Set(string(deb.RelLabel), d.Label)
	if d.Suite != "" {
		p.Set(string(deb.RelSuite), d.Suite)
	}
	p.Set(string(deb.RelVersion), d.Version)
	p.Set(string(deb.RelCodename), d.Codename)
	p.Set(string(deb.RelDate), r.opts.Now().UTC().Format(time.RFC1123Z))
	p.Set(string(deb.RelArchitectures), strings.Join(d.Architectures, " "))
	p.Set(string(deb.RelComponents), "")
	if d.Description != "" {
		p.Set(string(deb.RelDescription), d.Description)
	}
	for _, a := range r.opts.Algorithms {
		p.Set(string(a.ReleaseField()), "")
	}
	return p
}

// Descriptor returns the normalized descriptor.
func (r *Release) Descriptor() Descriptor { return r.desc }

// Dir returns the release directory, <root>/dists/<distribution>.
func (r *Release) Dir() string {
	return filepath.Join(r.root, "dists", filepath.FromSlash(r.desc.Distribution))
}

// Warnings returns the warnings recorded so far.
func (r *Release) Warnings() []Warning { return slices.Clone(r.warnings) }

// AddPackage publishes a binary package in component.
// Integrity and encoding problems are recorded as warnings; the returned error is fatal.
func (r *Release) AddPackage(component string, rec *deb.PackageRecord) error {
	c, err := r.component(component, rec.Name())
	if err == nil {
		err = c.AddPackage(rec)
	}
	return r.triage(err)
}

// AddSourceControlFile publishes a source package in component.
func (r *Release) AddSourceControlFile(component string, rec *deb.SourceRecord) error {
	c, err := r.component(component, rec.DscName())
	if err == nil {
		err = c.AddSourceControlFile(rec)
	}
	return r.triage(err)
}

// AddSourceFile publishes a source constituent in component.
func (r *Release) AddSourceFile(component string, rec *deb.SourceFile) error {
	c, err := r.component(component, rec.Name)
	if err == nil {
		err = c.AddSourceFile(rec)
	}
	return r.triage(err)
}

func (r *Release) component(name, record string) (*ComponentIndex, error) {
	if r.finalized {
		return nil, fmt.Errorf("release %s is finalized", r.desc.Distribution)
	}
	c, ok := r.components[name]
	if !ok {
		reason, rejected := r.rejected[name]
		if !rejected {
			reason = "component is not declared by the release"
		}
		return nil, &IntegrityError{
			Distribution: r.desc.Distribution,
			Component:    name,
			Record:       record,
			Reason:       reason,
		}
	}
	return c, nil
}

// triage records warning-level errors and passes fatal ones through.
func (r *Release) triage(err error) error {
	if err == nil {
		return nil
	}
	if w, ok := AsWarning(err); ok {
		r.log.Warn("skipping record", "component", w.Component, "record", w.Record, "reason", w.Message)
		r.warnings = append(r.warnings, w)
		return nil
	}
	return err
}

// Abort releases the open index streams of an unfinished release.
func (r *Release) Abort() {
	for _, c := range r.components {
		c.Close()
	}
}

// Finalize completes the release: it finishes every component, verifies the
// written files against their reports, writes the Release file and signs it.
func (r *Release) Finalize(ctx context.Context) (result *ReleaseFile, err error) {
	ctx, span := tracer.Start(ctx, "apt.Release.Finalize")
	span.SetAttributes(attribute.String("apt.distribution", r.desc.Distribution))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.Abort()
		}
		span.End()
	}()

	if r.finalized {
		return nil, fmt.Errorf("release %s is already finalized", r.desc.Distribution)
	}
	r.finalized = true

	reports, err := r.build(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.verify(ctx, reports); err != nil {
		return nil, err
	}
	rows := r.fold(reports)
	releasePath, err := r.persist(rows)
	if err != nil {
		return nil, err
	}

	result = &ReleaseFile{
		Distribution: r.desc.Distribution,
		Paragraph:    r.paragraph,
		Checksums:    rows,
		Signatures:   make(map[string]string),
		Warnings:     slices.Clone(r.warnings),
	}
	for _, rep := range reports {
		result.Artifacts = append(result.Artifacts, rep.Artifacts...)
		for _, f := range rep.Files {
			result.Artifacts = append(result.Artifacts, r.metadataArtifact(f.Path, f.Size, f.Digests))
		}
	}
	a, err := r.fileArtifact("Release")
	if err != nil {
		return nil, err
	}
	result.Artifacts = append(result.Artifacts, a)

	if err := r.sign(ctx, releasePath, result); err != nil {
		return nil, err
	}
	r.log.Info("release finalized", "components", len(reports), "artifacts", len(result.Artifacts), "warnings", len(result.Warnings))
	return result, nil
}

// build finishes every component in component-name order.
func (r *Release) build(ctx context.Context) ([]ComponentReport, error) {
	names := slices.Sorted(maps.Keys(r.components))

	var reports []ComponentReport
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rep, err := r.components[name].Finish()
		if err != nil {
			return nil, fmt.Errorf("finishing component %s: %w", name, err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// verify re-reads every reported file and checks its size and digests.
func (r *Release) verify(ctx context.Context, reports []ComponentReport) error {
	for _, rep := range reports {
		for _, f := range rep.Files {
			if err := ctx.Err(); err != nil {
				return err
			}
			size, digests, err := deb.HashFile(filepath.Join(r.Dir(), filepath.FromSlash(f.Path)), r.opts.Algorithms)
			if err != nil {
				return err
			}
			if size != f.Size {
				return fmt.Errorf("%s: size %d on disk, %d reported", f.Path, size, f.Size)
			}
			for _, a := range r.opts.Algorithms {
				if digests[a] != f.Digests[a] {
					return fmt.Errorf("%s: %s digest mismatch", f.Path, a)
				}
			}
		}
	}
	return nil
}

// fold combines the component reports into checksum rows, one list per
// algorithm, in report order.
func (r *Release) fold(reports []ComponentReport) map[deb.Algorithm][]ChecksumRow {
	rows := make(map[deb.Algorithm][]ChecksumRow, len(r.opts.Algorithms))
	for _, a := range r.opts.Algorithms {
		for _, rep := range reports {
			for _, f := range rep.Files {
				rows[a] = append(rows[a], ChecksumRow{Digest: f.Digests[a], Size: f.Size, Path: f.Path})
			}
		}
	}
	return rows
}

// persist completes the Release paragraph and writes it atomically.
func (r *Release) persist(rows map[deb.Algorithm][]ChecksumRow) (string, error) {
	components := slices.Sorted(maps.Keys(r.components))
	r.paragraph.Set(string(deb.RelComponents), strings.Join(components, " "))
	for _, a := range r.opts.Algorithms {
		r.paragraph.Set(string(a.ReleaseField()), FormatChecksumRows(rows[a]))
	}

	if err := os.MkdirAll(r.Dir(), 0755); err != nil {
		return "", err
	}
	releasePath := filepath.Join(r.Dir(), "Release")
	if err := writeFileAtomic(releasePath, func(w io.Writer) error {
		_, err := r.paragraph.WriteTo(w)
		return err
	}); err != nil {
		return "", fmt.Errorf("writing Release of %s: %w", r.desc.Distribution, err)
	}
	return releasePath, nil
}

// sizeWidth is the minimum width of the size column of Release checksum
// lists, as written by apt-ftparchive.
const sizeWidth = 16

// FormatChecksumRows renders the value of a Release checksum list.
func FormatChecksumRows(rows []ChecksumRow) string {
	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "\n %s %*d %s", row.Digest, sizeWidth, row.Size, row.Path)
	}
	return b.String()
}

// sign invokes the signer and places every signature next to the Release file.
func (r *Release) sign(ctx context.Context, releasePath string, result *ReleaseFile) error {
	if r.opts.Signer == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "apt.Release.sign")
	defer span.End()

	signatures, err := r.opts.Signer.Sign(ctx, releasePath)
	if err != nil {
		return &SigningError{Path: releasePath, Err: err}
	}
	if len(signatures) == 0 {
		return &SigningError{Path: releasePath, Err: fmt.Errorf("signer returned no signature")}
	}
	names := slices.Sorted(maps.Keys(signatures))
	for _, name := range names {
		src := signatures[name]
		base := filepath.Base(src)
		if base == "Release" {
			return &SigningError{Path: releasePath, Err: fmt.Errorf("signature %s would overwrite the Release file", name)}
		}
		dst := filepath.Join(r.Dir(), base)
		if filepath.Clean(src) != dst {
			if err := copyFile(src, dst); err != nil {
				return &SigningError{Path: releasePath, Err: err}
			}
		}
		a, err := r.fileArtifact(base)
		if err != nil {
			return err
		}
		result.Artifacts = append(result.Artifacts, a)
		result.Signatures[name] = a.RelativePath
	}
	r.log.Info("release signed", "signatures", len(names))
	return nil
}

func (r *Release) metadataArtifact(rel string, size int64, d deb.Digests) PublishedArtifact {
	return PublishedArtifact{
		RelativePath: path.Join("dists", r.desc.Distribution, rel),
		Kind:         KindMetadata,
		Content: deb.Artifact{
			Size:   size,
			MD5:    d[deb.MD5],
			SHA1:   d[deb.SHA1],
			SHA256: d[deb.SHA256],
			SHA512: d[deb.SHA512],
		},
	}
}

// fileArtifact hashes a file of the release directory and describes it.
func (r *Release) fileArtifact(rel string) (PublishedArtifact, error) {
	size, d, err := deb.HashFile(filepath.Join(r.Dir(), rel), deb.AllAlgorithms)
	if err != nil {
		return PublishedArtifact{}, err
	}
	return r.metadataArtifact(rel, size, d), nil
}

// writeFileAtomic writes a temporary file next to path and renames it into place.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFileAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
