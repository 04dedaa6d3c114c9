package publish

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/etnz/apt-publish/apt"
	"github.com/etnz/apt-publish/catalog"
	"github.com/etnz/apt-publish/deb"
	"golang.org/x/sync/errgroup"
)

// dedupe removes pool artifacts published at the same path by several
// releases. The same path with different content is an error.
func dedupe(artifacts []apt.PublishedArtifact) ([]apt.PublishedArtifact, error) {
	seen := make(map[string]string)
	res := artifacts[:0:0]
	for _, a := range artifacts {
		if a.Kind != apt.KindPool {
			res = append(res, a)
			continue
		}
		digest, ok := seen[a.RelativePath]
		switch {
		case !ok:
			seen[a.RelativePath] = a.Content.SHA256
			res = append(res, a)
		case digest != a.Content.SHA256:
			return nil, fmt.Errorf("pool path %s is published with content %s and %s", a.RelativePath, digest, a.Content.SHA256)
		}
	}
	return res, nil
}

// materialize places every pool artifact in the tree at dir. Files are hard
// linked when the store keeps them locally, and copied otherwise.
func (p *Publisher) materialize(ctx context.Context, dir string, artifacts []apt.PublishedArtifact) error {
	if p.opts.Store == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "publish.materialize")
	defer span.End()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, a := range artifacts {
		if a.Kind != apt.KindPool {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return p.place(dir, a)
		})
	}
	return g.Wait()
}

func (p *Publisher) place(dir string, a apt.PublishedArtifact) error {
	if !filepath.IsLocal(filepath.FromSlash(a.RelativePath)) {
		return fmt.Errorf("pool path %q leaves the publication", a.RelativePath)
	}
	target := filepath.Join(dir, filepath.FromSlash(a.RelativePath))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if l, ok := p.opts.Store.(catalog.Locator); ok {
		if src, ok := l.Locate(a.Content.SHA256); ok {
			if err := os.Link(src, target); err == nil {
				p.listen(EventFileOperation{Path: a.RelativePath, Digest: a.Content.SHA256, Linked: true})
				return nil
			}
		}
	}

	r, err := p.opts.Store.Open(a.Content.SHA256)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", a.RelativePath, err)
	}
	defer r.Close()
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	m := deb.NewMultiHasher(f, []deb.Algorithm{deb.SHA256})
	if _, err := io.Copy(m, r); err != nil {
		f.Close()
		return fmt.Errorf("copying %s: %w", a.RelativePath, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if got := m.Digests()[deb.SHA256]; got != a.Content.SHA256 {
		return fmt.Errorf("%s: store returned content %s, expected %s", a.RelativePath, got, a.Content.SHA256)
	}
	p.listen(EventFileOperation{Path: a.RelativePath, Digest: a.Content.SHA256, Copied: true})
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
