// Package publish turns a repository snapshot into a complete Debian
// repository tree and promotes it atomically.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/etnz/apt-publish/apt"
	"github.com/etnz/apt-publish/catalog"
	"github.com/etnz/apt-publish/deb"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/etnz/apt-publish/publish")

// DefaultOrigin is the Origin of releases when none is configured.
const DefaultOrigin = "apt-publish"

// Options configures a Publisher.
type Options struct {
	// Simple publishes every record in the "default" distribution, component "all".
	Simple bool
	// Structured publishes one distribution per release of the snapshot.
	Structured bool
	// Verbatim also places every content file at the path it was ingested
	// under, so the tree mirrors the upstream layout.
	Verbatim bool

	Origin string
	// Algorithms is the checksum policy, see deb.ParseAlgorithms. Nil enables every algorithm.
	Algorithms []deb.Algorithm
	// Signer signs every Release file. Nil publishes unsigned.
	Signer apt.Signer
	// Store provides the pool files. Nil publishes the indices only.
	Store catalog.Store
	// Files are written at the root of the tree, e.g. the public key of the signer.
	Files map[string][]byte
	// Workers bounds the number of releases built concurrently. Zero means one.
	Workers int

	Logger   *slog.Logger
	Listener Listener
	Now      func() time.Time
}

// Publication describes a complete repository tree.
type Publication struct {
	ID string `json:"id"`
	// Path is the directory holding the tree.
	Path      string                  `json:"path"`
	Releases  []*apt.ReleaseFile      `json:"-"`
	Artifacts []apt.PublishedArtifact `json:"artifacts"`
	Warnings  []apt.Warning           `json:"warnings,omitempty"`
}

// Publisher builds publications.
type Publisher struct {
	opts   Options
	log    *slog.Logger
	listen Listener
}

// New returns a Publisher.
func New(opts Options) *Publisher {
	if opts.Origin == "" {
		opts.Origin = DefaultOrigin
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{opts: opts, log: opts.Logger, listen: opts.Listener.serialized()}
}

// Build writes the publication of snap into dir, which must not exist or be empty.
// On error the content of dir is undefined.
func (p *Publisher) Build(ctx context.Context, snap *catalog.Snapshot, dir string) (*Publication, error) {
	return p.build(ctx, snap, dir, uuid.NewString())
}

func (p *Publisher) build(ctx context.Context, snap *catalog.Snapshot, dir, id string) (pub *Publication, err error) {
	ctx, span := tracer.Start(ctx, "publish.Build", trace.WithAttributes(
		attribute.String("publish.id", id),
		attribute.String("publish.repository", snap.Repository.Name),
		attribute.Int64("publish.version", snap.Repository.Version),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := p.log.With("publication", id)
	log.Info("publishing", "repository", snap.Repository.Name, "version", snap.Repository.Version,
		"simple", p.opts.Simple, "structured", p.opts.Structured, "verbatim", p.opts.Verbatim)
	p.listen(EventPublishStart{
		ID:         id,
		Repository: snap.Repository.Name,
		Version:    snap.Repository.Version,
		Simple:     p.opts.Simple,
		Structured: p.opts.Structured,
		Verbatim:   p.opts.Verbatim,
	})

	x, err := catalog.NewIndex(snap)
	if err != nil {
		return nil, err
	}
	plans, err := p.plans(x)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	results := make([]*apt.ReleaseFile, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, pl := range plans {
		g.Go(func() error {
			res, err := p.release(gctx, x, dir, pl)
			if err != nil {
				return fmt.Errorf("publishing %s: %w", pl.desc.Distribution, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pub = &Publication{ID: id, Path: dir}
	for i, res := range results {
		pub.Releases = append(pub.Releases, res)
		pub.Warnings = append(pub.Warnings, plans[i].warnings...)
		pub.Warnings = append(pub.Warnings, res.Warnings...)
		pub.Artifacts = append(pub.Artifacts, res.Artifacts...)
	}
	if p.opts.Verbatim {
		artifacts, warnings := p.verbatimArtifacts(x)
		for _, w := range warnings {
			log.Warn("skipping verbatim file", "record", w.Record, "reason", w.Message)
		}
		log.Debug("verbatim files", "artifacts", len(artifacts))
		pub.Warnings = append(pub.Warnings, warnings...)
		pub.Artifacts = append(pub.Artifacts, artifacts...)
	}
	for _, w := range pub.Warnings {
		p.listen(EventWarning(w))
	}

	pub.Artifacts, err = dedupe(pub.Artifacts)
	if err != nil {
		return nil, err
	}
	if err := p.materialize(ctx, dir, pub.Artifacts); err != nil {
		return nil, err
	}
	extra, err := p.writeFiles(dir)
	if err != nil {
		return nil, err
	}
	pub.Artifacts = append(pub.Artifacts, extra...)

	log.Info("publication built", "releases", len(pub.Releases), "artifacts", len(pub.Artifacts), "warnings", len(pub.Warnings))
	return pub, nil
}

// release assembles the distribution of pl below dir.
func (p *Publisher) release(ctx context.Context, x *catalog.Index, dir string, pl *plan) (*apt.ReleaseFile, error) {
	for _, w := range pl.warnings {
		p.log.Warn("skipping record", "distribution", w.Distribution, "component", w.Component, "record", w.Record, "reason", w.Message)
	}
	r, err := apt.NewRelease(dir, pl.desc, apt.Options{
		Algorithms:  p.opts.Algorithms,
		Signer:      p.opts.Signer,
		SourceFiles: x.SourceFileBySHA256,
		Now:         p.opts.Now,
		Logger:      p.log,
	})
	if err != nil {
		return nil, err
	}
	for _, e := range pl.entries {
		if err := ctx.Err(); err != nil {
			r.Abort()
			return nil, err
		}
		switch {
		case e.pkg != nil:
			err = r.AddPackage(e.component, e.pkg)
		case e.dsc != nil:
			err = r.AddSourceControlFile(e.component, e.dsc)
		case e.file != nil:
			err = r.AddSourceFile(e.component, e.file)
		}
		if err != nil {
			r.Abort()
			return nil, err
		}
	}
	res, err := r.Finalize(ctx)
	if err != nil {
		return nil, err
	}
	p.listen(EventReleaseFinalized{
		Distribution: res.Distribution,
		Components:   res.Paragraph.Value(string(deb.RelComponents)),
		Artifacts:    len(res.Artifacts),
		Signed:       len(res.Signatures) > 0,
	})
	return res, nil
}

// writeFiles writes the extra files at the root of the tree.
func (p *Publisher) writeFiles(dir string) ([]apt.PublishedArtifact, error) {
	var res []apt.PublishedArtifact
	for _, name := range sortedKeys(p.opts.Files) {
		if strings.Contains(name, "/") || name == "dists" || name == "pool" {
			return nil, fmt.Errorf("invalid file name %q", name)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, p.opts.Files[name], 0644); err != nil {
			return nil, err
		}
		size, d, err := deb.HashFile(path, deb.AllAlgorithms)
		if err != nil {
			return nil, err
		}
		a := apt.PublishedArtifact{RelativePath: name, Kind: apt.KindMetadata}
		a.Content.Size = size
		for alg, v := range d {
			a.Content.SetDigest(alg, v)
		}
		res = append(res, a)
	}
	return res, nil
}
