// Package catalog describes the content of one repository version, as read by
// the publisher, and where the bytes of that content are stored.
package catalog

import (
	"fmt"
	"path"
	"slices"

	"github.com/etnz/apt-publish/deb"
)

// Repository names the repository a snapshot belongs to.
type Repository struct {
	// Name is published as the Label of every release.
	Name        string
	Description string
	// Version is the repository version number, published as the Version of every release.
	Version int64
}

// Release is a distribution of a structured publication.
type Release struct {
	ID           string
	Codename     string
	Suite        string
	Distribution string
}

// ReleaseArchitecture declares an architecture of a release.
type ReleaseArchitecture struct {
	ID           string
	ReleaseID    string
	Architecture string
}

// ReleaseComponent declares a component of a release.
type ReleaseComponent struct {
	ID        string
	ReleaseID string
	// Component may contain slashes, e.g. "updates/main".
	Component string
}

// Plain returns the last segment of the component, used for directory names.
func (c ReleaseComponent) Plain() string { return path.Base(c.Component) }

// Membership places a content record in a release component.
type Membership struct {
	ComponentID string
	ContentID   string
}

// Snapshot is an immutable repository version: its content records and the
// relations placing them in releases. Content slices are ordered newest first.
type Snapshot struct {
	Repository Repository

	Packages    []*deb.PackageRecord
	Sources     []*deb.SourceRecord
	SourceFiles []*deb.SourceFile

	Releases      []Release
	Architectures []ReleaseArchitecture
	Components    []ReleaseComponent

	PackageMemberships    []Membership
	SourceMemberships     []Membership
	SourceFileMemberships []Membership
}

// Index gives constant time access to the records and relations of a
// snapshot. It is built once per publish and never modified.
type Index struct {
	snap *Snapshot

	packages    map[string]*deb.PackageRecord
	sources     map[string]*deb.SourceRecord
	sourceFiles map[string]*deb.SourceFile
	bySHA256    map[string]*deb.SourceFile

	releases      map[string]Release
	components    map[string]ReleaseComponent
	archsOf       map[string][]string
	componentsOf  map[string][]ReleaseComponent
	packagesOf    map[string][]string
	sourcesOf     map[string][]string
	sourceFilesOf map[string][]string
}

// NewIndex indexes s. Identifiers must be unique per record type.
func NewIndex(s *Snapshot) (*Index, error) {
	x := &Index{
		snap:          s,
		packages:      make(map[string]*deb.PackageRecord, len(s.Packages)),
		sources:       make(map[string]*deb.SourceRecord, len(s.Sources)),
		sourceFiles:   make(map[string]*deb.SourceFile, len(s.SourceFiles)),
		bySHA256:      make(map[string]*deb.SourceFile, len(s.SourceFiles)),
		releases:      make(map[string]Release, len(s.Releases)),
		components:    make(map[string]ReleaseComponent, len(s.Components)),
		archsOf:       make(map[string][]string),
		componentsOf:  make(map[string][]ReleaseComponent),
		packagesOf:    make(map[string][]string),
		sourcesOf:     make(map[string][]string),
		sourceFilesOf: make(map[string][]string),
	}
	for _, p := range s.Packages {
		if err := unique(x.packages, p.ID, "package"); err != nil {
			return nil, err
		}
		x.packages[p.ID] = p
	}
	for _, d := range s.Sources {
		if err := unique(x.sources, d.ID, "source package"); err != nil {
			return nil, err
		}
		x.sources[d.ID] = d
	}
	for _, f := range s.SourceFiles {
		if err := unique(x.sourceFiles, f.ID, "source file"); err != nil {
			return nil, err
		}
		x.sourceFiles[f.ID] = f
		if _, ok := x.bySHA256[f.Artifact.SHA256]; !ok && f.Artifact.SHA256 != "" {
			x.bySHA256[f.Artifact.SHA256] = f
		}
	}
	for _, r := range s.Releases {
		if err := unique(x.releases, r.ID, "release"); err != nil {
			return nil, err
		}
		x.releases[r.ID] = r
	}
	for _, a := range s.Architectures {
		if !slices.Contains(x.archsOf[a.ReleaseID], a.Architecture) {
			x.archsOf[a.ReleaseID] = append(x.archsOf[a.ReleaseID], a.Architecture)
		}
	}
	for _, c := range s.Components {
		if err := unique(x.components, c.ID, "release component"); err != nil {
			return nil, err
		}
		x.components[c.ID] = c
		x.componentsOf[c.ReleaseID] = append(x.componentsOf[c.ReleaseID], c)
	}
	for _, m := range s.PackageMemberships {
		x.packagesOf[m.ComponentID] = append(x.packagesOf[m.ComponentID], m.ContentID)
	}
	for _, m := range s.SourceMemberships {
		x.sourcesOf[m.ComponentID] = append(x.sourcesOf[m.ComponentID], m.ContentID)
	}
	for _, m := range s.SourceFileMemberships {
		x.sourceFilesOf[m.ComponentID] = append(x.sourceFilesOf[m.ComponentID], m.ContentID)
	}
	return x, nil
}

func unique[T any](m map[string]T, id, what string) error {
	if id == "" {
		return fmt.Errorf("%s without identifier", what)
	}
	if _, ok := m[id]; ok {
		return fmt.Errorf("duplicate %s identifier %q", what, id)
	}
	return nil
}

// Snapshot returns the indexed snapshot.
func (x *Index) Snapshot() *Snapshot { return x.snap }

// Package returns the package with the given identifier.
func (x *Index) Package(id string) (*deb.PackageRecord, bool) {
	p, ok := x.packages[id]
	return p, ok
}

// Source returns the source package with the given identifier.
func (x *Index) Source(id string) (*deb.SourceRecord, bool) {
	s, ok := x.sources[id]
	return s, ok
}

// SourceFile returns the source file with the given identifier.
func (x *Index) SourceFile(id string) (*deb.SourceFile, bool) {
	f, ok := x.sourceFiles[id]
	return f, ok
}

// SourceFileBySHA256 finds a source file by the sha256 digest of its content.
func (x *Index) SourceFileBySHA256(sha256 string) (*deb.SourceFile, bool) {
	f, ok := x.bySHA256[sha256]
	return f, ok
}

// Component returns the release component with the given identifier.
func (x *Index) Component(id string) (ReleaseComponent, bool) {
	c, ok := x.components[id]
	return c, ok
}

// Architectures returns the architectures declared by a release, in declaration order.
func (x *Index) Architectures(releaseID string) []string {
	return slices.Clone(x.archsOf[releaseID])
}

// Components returns the components declared by a release, in declaration order.
func (x *Index) Components(releaseID string) []ReleaseComponent {
	return slices.Clone(x.componentsOf[releaseID])
}

// PackagesOf returns the package identifiers placed in a component.
func (x *Index) PackagesOf(componentID string) []string { return x.packagesOf[componentID] }

// SourcesOf returns the source package identifiers placed in a component.
func (x *Index) SourcesOf(componentID string) []string { return x.sourcesOf[componentID] }

// SourceFilesOf returns the source file identifiers placed in a component.
func (x *Index) SourceFilesOf(componentID string) []string { return x.sourceFilesOf[componentID] }

// PackageArchitectures returns the distinct architectures of all packages, sorted.
func (x *Index) PackageArchitectures() []string {
	var res []string
	for _, p := range x.snap.Packages {
		if !slices.Contains(res, p.Architecture) {
			res = append(res, p.Architecture)
		}
	}
	slices.Sort(res)
	return res
}
