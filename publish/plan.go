package publish

import (
	"fmt"
	"strconv"

	"github.com/etnz/apt-publish/apt"
	"github.com/etnz/apt-publish/catalog"
	"github.com/etnz/apt-publish/deb"
)

// Names of the synthetic release of a simple publication.
const (
	SimpleDistribution = "default"
	SimpleComponent    = "all"
)

// entry places one content record in a component. Exactly one record is set.
type entry struct {
	component string
	pkg       *deb.PackageRecord
	dsc       *deb.SourceRecord
	file      *deb.SourceFile
}

// plan is the work of one Release assembler.
type plan struct {
	desc     apt.Descriptor
	entries  []entry
	warnings []apt.Warning
}

// plans enumerates the releases to build. Memberships pointing at absent
// content become warnings. Two releases sharing a distribution is an error.
// A verbatim only publication has no release.
func (p *Publisher) plans(x *catalog.Index) ([]*plan, error) {
	if !p.opts.Simple && !p.opts.Structured && !p.opts.Verbatim {
		return nil, fmt.Errorf("no publication mode (simple, structured or verbatim) is enabled")
	}
	var res []*plan
	if p.opts.Simple {
		res = append(res, p.simplePlan(x))
	}
	if p.opts.Structured {
		for _, r := range x.Snapshot().Releases {
			res = append(res, p.structuredPlan(x, r))
		}
	}

	seen := make(map[string]bool, len(res))
	for _, pl := range res {
		d := pl.desc.Distribution
		if d == "" {
			return nil, fmt.Errorf("release without distribution")
		}
		if err := deb.CheckPath("distribution", d); err != nil {
			return nil, err
		}
		if seen[d] {
			return nil, fmt.Errorf("distribution %q is published twice", d)
		}
		seen[d] = true
	}
	return res, nil
}

// descriptor fills the fields shared by every release of the snapshot.
func (p *Publisher) descriptor(x *catalog.Index) apt.Descriptor {
	repo := x.Snapshot().Repository
	return apt.Descriptor{
		Origin:      p.opts.Origin,
		Label:       repo.Name,
		Version:     strconv.FormatInt(repo.Version, 10),
		Description: repo.Description,
	}
}

// simplePlan places every record of the snapshot in default/all.
func (p *Publisher) simplePlan(x *catalog.Index) *plan {
	d := p.descriptor(x)
	d.Distribution = SimpleDistribution
	d.Codename = SimpleDistribution
	d.Components = []string{SimpleComponent}
	d.Architectures = x.PackageArchitectures()

	pl := &plan{desc: d}
	snap := x.Snapshot()
	for _, r := range snap.Packages {
		pl.entries = append(pl.entries, entry{component: SimpleComponent, pkg: r})
	}
	for _, r := range snap.Sources {
		pl.entries = append(pl.entries, entry{component: SimpleComponent, dsc: r})
	}
	for _, r := range snap.SourceFiles {
		pl.entries = append(pl.entries, entry{component: SimpleComponent, file: r})
	}
	return pl
}

// structuredPlan places the members of every component of r.
func (p *Publisher) structuredPlan(x *catalog.Index, r catalog.Release) *plan {
	d := p.descriptor(x)
	d.Distribution = r.Distribution
	d.Codename = r.Codename
	d.Suite = r.Suite
	d.Architectures = x.Architectures(r.ID)
	components := x.Components(r.ID)
	for _, c := range components {
		d.Components = append(d.Components, c.Component)
	}

	pl := &plan{desc: d}
	missing := func(c catalog.ReleaseComponent, what, id string) {
		w, _ := apt.AsWarning(&apt.IntegrityError{
			Distribution: r.Distribution,
			Component:    c.Component,
			Record:       id,
			Reason:       what + " is not in the repository version",
		})
		pl.warnings = append(pl.warnings, w)
	}
	for _, c := range components {
		for _, id := range x.PackagesOf(c.ID) {
			if rec, ok := x.Package(id); ok {
				pl.entries = append(pl.entries, entry{component: c.Component, pkg: rec})
			} else {
				missing(c, "package", id)
			}
		}
	}
	for _, c := range components {
		for _, id := range x.SourcesOf(c.ID) {
			if rec, ok := x.Source(id); ok {
				pl.entries = append(pl.entries, entry{component: c.Component, dsc: rec})
			} else {
				missing(c, "source package", id)
			}
		}
	}
	for _, c := range components {
		for _, id := range x.SourceFilesOf(c.ID) {
			if rec, ok := x.SourceFile(id); ok {
				pl.entries = append(pl.entries, entry{component: c.Component, file: rec})
			} else {
				missing(c, "source file", id)
			}
		}
	}
	return pl
}
