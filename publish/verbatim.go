package publish

import (
	"fmt"
	"path"
	"strings"

	"github.com/etnz/apt-publish/apt"
	"github.com/etnz/apt-publish/catalog"
	"github.com/etnz/apt-publish/deb"
)

// verbatimArtifacts places every content file of the snapshot at the path it
// was ingested under. Files whose path cannot be placed in the tree are skipped
// with a warning.
func (p *Publisher) verbatimArtifacts(x *catalog.Index) ([]apt.PublishedArtifact, []apt.Warning) {
	var (
		res      []apt.PublishedArtifact
		warnings []apt.Warning
	)
	add := func(record string, a deb.Artifact) {
		if err := p.checkVerbatimPath(a.RelativePath); err != nil {
			w, _ := apt.AsWarning(&apt.IntegrityError{Record: record, Reason: err.Error()})
			warnings = append(warnings, w)
			return
		}
		res = append(res, apt.PublishedArtifact{RelativePath: a.RelativePath, Kind: apt.KindPool, Content: a})
	}

	snap := x.Snapshot()
	for _, r := range snap.Packages {
		add(r.Name(), r.Artifact)
	}
	for _, r := range snap.Sources {
		add(r.DscName(), r.Artifact)
	}
	for _, r := range snap.SourceFiles {
		add(r.Name, r.Artifact)
	}
	return res, warnings
}

// checkVerbatimPath rejects paths that would leave the tree or overwrite the
// release metadata and the extra root files.
func (p *Publisher) checkVerbatimPath(rel string) error {
	if err := deb.CheckPath("verbatim path", rel); err != nil {
		return err
	}
	top, _, _ := strings.Cut(path.Clean(rel), "/")
	if top == "dists" {
		return fmt.Errorf("verbatim path %q is reserved for release metadata", rel)
	}
	if _, ok := p.opts.Files[top]; ok {
		return fmt.Errorf("verbatim path %q collides with the root file %s", rel, top)
	}
	return nil
}
