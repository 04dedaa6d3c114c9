package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/etnz/apt-publish/deb"
	"go.yaml.in/yaml/v3"
)

// document is the YAML or JSON form of a snapshot.
//
//	repository: {name: myrepo, description: My packages, version: 3}
//	packages:
//	  - id: foo-1.0-amd64
//	    file: {path: foo_1.0_amd64.deb, size: 1234, sha256: ...}
//	    control: |
//	      Package: foo
//	      ...
//	releases:
//	  - distribution: stable
//	    architectures: [amd64]
//	    components:
//	      - name: main
//	        packages: [foo-1.0-amd64]
type document struct {
	Repository  repositoryDoc   `json:"repository" yaml:"repository"`
	Packages    []contentDoc    `json:"packages" yaml:"packages"`
	Sources     []contentDoc    `json:"sources" yaml:"sources"`
	SourceFiles []sourceFileDoc `json:"source_files" yaml:"source_files"`
	Releases    []releaseDoc    `json:"releases" yaml:"releases"`
}

type repositoryDoc struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Version     int64  `json:"version" yaml:"version"`
}

type fileDoc struct {
	Path   string `json:"path" yaml:"path"`
	Size   int64  `json:"size" yaml:"size"`
	MD5    string `json:"md5" yaml:"md5"`
	SHA1   string `json:"sha1" yaml:"sha1"`
	SHA256 string `json:"sha256" yaml:"sha256"`
	SHA512 string `json:"sha512" yaml:"sha512"`
}

func (f fileDoc) artifact() deb.Artifact {
	return deb.Artifact{
		RelativePath: f.Path,
		Size:         f.Size,
		MD5:          f.MD5,
		SHA1:         f.SHA1,
		SHA256:       f.SHA256,
		SHA512:       f.SHA512,
	}
}

type contentDoc struct {
	ID string `json:"id" yaml:"id"`
	// Kind is "deb" (default) or "udeb" for packages.
	Kind    string  `json:"kind" yaml:"kind"`
	File    fileDoc `json:"file" yaml:"file"`
	Control string  `json:"control" yaml:"control"`
}

type sourceFileDoc struct {
	ID   string  `json:"id" yaml:"id"`
	Name string  `json:"name" yaml:"name"`
	File fileDoc `json:"file" yaml:"file"`
}

type releaseDoc struct {
	ID            string         `json:"id" yaml:"id"`
	Codename      string         `json:"codename" yaml:"codename"`
	Suite         string         `json:"suite" yaml:"suite"`
	Distribution  string         `json:"distribution" yaml:"distribution"`
	Architectures []string       `json:"architectures" yaml:"architectures"`
	Components    []componentDoc `json:"components" yaml:"components"`
}

type componentDoc struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Packages    []string `json:"packages" yaml:"packages"`
	Sources     []string `json:"sources" yaml:"sources"`
	SourceFiles []string `json:"source_files" yaml:"source_files"`
}

// LoadFile reads a snapshot document. The format is chosen by the file
// extension: .yaml and .yml are YAML, anything else is JSON. Unknown keys are rejected.
func LoadFile(path string) (*Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var doc document
	if err := Unmarshal(path, content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	snap, err := doc.snapshot()
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot %s: %w", path, err)
	}
	return snap, nil
}

// snapshot converts the document. Identifiers default to the sha256 digest
// of content, the distribution of releases, and "<release>:<name>" for components.
func (doc *document) snapshot() (*Snapshot, error) {
	snap := &Snapshot{Repository: Repository(doc.Repository)}

	for i, c := range doc.Packages {
		p, err := deb.ParseParagraph(c.Control)
		if err != nil {
			return nil, fmt.Errorf("package #%d: %w", i, err)
		}
		rec, err := deb.DecodePackage(p)
		if err != nil {
			return nil, fmt.Errorf("package #%d: %w", i, err)
		}
		if rec.Kind, err = deb.ParseContentKind(c.Kind); err != nil {
			return nil, fmt.Errorf("package #%d: %w", i, err)
		}
		if rec.Kind != deb.KindPackage && rec.Kind != deb.KindInstallerPackage {
			return nil, fmt.Errorf("package #%d: kind %s is not a binary package", i, rec.Kind)
		}
		rec.Artifact = c.File.artifact()
		rec.ID = defaultID(c.ID, c.File.SHA256)
		snap.Packages = append(snap.Packages, rec)
	}
	for i, c := range doc.Sources {
		rec, err := deb.ParseDsc([]byte(c.Control))
		if err != nil {
			return nil, fmt.Errorf("source #%d: %w", i, err)
		}
		rec.Artifact = c.File.artifact()
		rec.ID = defaultID(c.ID, c.File.SHA256)
		snap.Sources = append(snap.Sources, rec)
	}
	for _, f := range doc.SourceFiles {
		name := f.Name
		if name == "" {
			name = filepath.Base(f.File.Path)
		}
		snap.SourceFiles = append(snap.SourceFiles, &deb.SourceFile{
			ID:       defaultID(f.ID, f.File.SHA256),
			Name:     name,
			Artifact: f.File.artifact(),
		})
	}

	for _, r := range doc.Releases {
		rel := Release{
			ID:           defaultID(r.ID, r.Distribution),
			Codename:     r.Codename,
			Suite:        r.Suite,
			Distribution: r.Distribution,
		}
		if rel.Distribution == "" {
			return nil, fmt.Errorf("release %q has no distribution", rel.ID)
		}
		snap.Releases = append(snap.Releases, rel)
		for _, a := range r.Architectures {
			snap.Architectures = append(snap.Architectures, ReleaseArchitecture{
				ID:           rel.ID + ":" + a,
				ReleaseID:    rel.ID,
				Architecture: a,
			})
		}
		for _, c := range r.Components {
			if c.Name == "" {
				return nil, fmt.Errorf("release %q has a component without name", rel.ID)
			}
			comp := ReleaseComponent{
				ID:        defaultID(c.ID, rel.ID+":"+c.Name),
				ReleaseID: rel.ID,
				Component: c.Name,
			}
			snap.Components = append(snap.Components, comp)
			snap.PackageMemberships = appendMemberships(snap.PackageMemberships, comp.ID, c.Packages)
			snap.SourceMemberships = appendMemberships(snap.SourceMemberships, comp.ID, c.Sources)
			snap.SourceFileMemberships = appendMemberships(snap.SourceFileMemberships, comp.ID, c.SourceFiles)
		}
	}
	return snap, nil
}

func defaultID(id, fallback string) string {
	if id != "" {
		return id
	}
	return fallback
}

func appendMemberships(ms []Membership, componentID string, ids []string) []Membership {
	for _, id := range ids {
		ms = append(ms, Membership{ComponentID: componentID, ContentID: id})
	}
	return ms
}

// Unmarshal decodes data into v as YAML when path ends in .yaml or .yml, and
// as JSON otherwise. Unknown fields are rejected in both formats.
func Unmarshal(path string, data []byte, v any) error {
	ext := strings.ToLower(filepath.Ext(path))
	r := bytes.NewReader(data)
	if ext == ".yaml" || ext == ".yml" {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		return dec.Decode(v)
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
