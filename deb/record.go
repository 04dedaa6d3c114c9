package deb

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ContentKind tags a content record of a repository snapshot.
type ContentKind int

const (
	// KindPackage is a binary package (.deb).
	KindPackage ContentKind = iota
	// KindInstallerPackage is a debian-installer package (.udeb).
	KindInstallerPackage
	// KindDscFile is a source control file (.dsc).
	KindDscFile
	// KindSourceFile is a constituent of a source package (.orig.tar.gz, .debian.tar.xz, ...).
	KindSourceFile
)

var contentKindNames = map[ContentKind]string{
	KindPackage:          "deb",
	KindInstallerPackage: "udeb",
	KindDscFile:          "dsc",
	KindSourceFile:       "source",
}

func (k ContentKind) String() string {
	if s, ok := contentKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ContentKind(%d)", int(k))
}

// ParseContentKind is the inverse of ContentKind.String. The empty string is a binary package.
func ParseContentKind(s string) (ContentKind, error) {
	if s == "" {
		return KindPackage, nil
	}
	for k, name := range contentKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown content kind %q", s)
}

// Artifact identifies the physical file behind a content record.
type Artifact struct {
	// RelativePath is the slash separated path the file was ingested under.
	// Indices always reference the pool path; verbatim publishing also places
	// the file here.
	RelativePath string
	Size         int64
	MD5          string
	SHA1         string
	// SHA256 is mandatory and addresses the file in the content store.
	SHA256 string
	SHA512 string
}

// Digest returns the artifact digest for alg, or "" when unknown.
func (a Artifact) Digest(alg Algorithm) string {
	switch alg {
	case MD5:
		return a.MD5
	case SHA1:
		return a.SHA1
	case SHA256:
		return a.SHA256
	case SHA512:
		return a.SHA512
	}
	return ""
}

// SetDigest stores the digest for alg.
func (a *Artifact) SetDigest(alg Algorithm, digest string) {
	switch alg {
	case MD5:
		a.MD5 = digest
	case SHA1:
		a.SHA1 = digest
	case SHA256:
		a.SHA256 = digest
	case SHA512:
		a.SHA512 = digest
	}
}

// PackageRecord is a binary package of the catalog: its control metadata
// and the artifact it was ingested from.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#binary-package-control-files-debian-control
type PackageRecord struct {
	ID   string
	Kind ContentKind

	Package      string
	Source       string
	Version      string
	Architecture string
	Section      string
	Priority     string
	Origin       string
	Tag          string
	Bugs         string
	// Essential and BuildEssential are rendered as yes/no; nil omits the field.
	Essential          *bool
	BuildEssential     *bool
	InstalledSize      string
	Maintainer         string
	OriginalMaintainer string
	Description        string
	DescriptionMD5     string
	Homepage           string
	BuiltUsing         string
	AutoBuiltPackage   string
	MultiArch          string

	Breaks     []string
	Conflicts  []string
	Depends    []string
	Recommends []string
	Suggests   []string
	Enhances   []string
	PreDepends []string
	Provides   []string
	Replaces   []string

	// Extra holds non-standard fields. They are written after the standard ones, sorted by name.
	Extra map[string]string

	Artifact Artifact
}

// Name returns the conventional package name "<package>_<version>_<arch>".
func (p *PackageRecord) Name() string {
	return fmt.Sprintf("%s_%s_%s", p.Package, p.Version, p.Architecture)
}

// SourceName returns the source package name: Source without its version
// suffix, or Package when Source is unset.
func (p *PackageRecord) SourceName() string {
	name := p.Source
	if name == "" {
		name = p.Package
	}
	name, _, _ = strings.Cut(name, "(")
	return strings.TrimSpace(name)
}

// Extension returns the file extension of the package kind.
func (p *PackageRecord) Extension() string {
	if p.Kind == KindInstallerPackage {
		return "udeb"
	}
	return "deb"
}

// PoolPath returns the path of the package below the repository root when
// published in component, e.g. "pool/main/libf/libfoo/libfoo1_1.0_amd64.deb".
func (p *PackageRecord) PoolPath(component string) string {
	return poolPath(component, p.SourceName(), p.Name()+"."+p.Extension())
}

// CheckPoolPath reports an error when the pool path of p in component would
// not stay below pool/.
func (p *PackageRecord) CheckPoolPath(component string) error {
	return checkPool(component, p.SourceName(), p.Name()+"."+p.Extension())
}

// SourceFile is a constituent of a source package, referenced by the
// checksum lists of a SourceRecord.
type SourceFile struct {
	ID string
	// Name is the file name as listed in the .dsc, e.g. "foo_1.0.orig.tar.gz".
	Name     string
	Artifact Artifact
}

// PoolPath returns the path of the file below the repository root when
// published in component. The source name is the part of Name before the first '_'.
func (s *SourceFile) PoolPath(component string) string {
	source, _, _ := strings.Cut(s.Name, "_")
	return poolPath(component, source, s.Name)
}

// CheckPoolPath reports an error when the pool path of s in component would
// not stay below pool/.
func (s *SourceFile) CheckPoolPath(component string) error {
	source, _, _ := strings.Cut(s.Name, "_")
	return checkPool(component, source, s.Name)
}

// ChecksumEntry is one row of a source checksum list: "<digest> <size> <name>".
type ChecksumEntry struct {
	Digest string
	Size   int64
	Name   string
}

// SourceRecord is a source package of the catalog, described by its .dsc file.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#debian-source-control-files-dsc
type SourceRecord struct {
	ID string

	Format              string
	Source              string
	Binary              []string
	Architecture        string
	Version             string
	Maintainer          string
	Uploaders           string
	Homepage            string
	VcsBrowser          string
	VcsArch             string
	VcsBzr              string
	VcsCvs              string
	VcsDarcs            string
	VcsGit              string
	VcsHg               string
	VcsMtn              string
	VcsSvn              string
	Testsuite           string
	Dgit                string
	StandardsVersion    string
	BuildDepends        []string
	BuildDependsIndep   []string
	BuildDependsArch    []string
	BuildConflicts      []string
	BuildConflictsIndep []string
	BuildConflictsArch  []string
	// PackageList is stored without its leading newline.
	PackageList string

	ChecksumsSha1   []ChecksumEntry
	ChecksumsSha256 []ChecksumEntry
	ChecksumsSha512 []ChecksumEntry
	// Files is the md5 checksum list.
	Files []ChecksumEntry

	Extra map[string]string

	// Artifact is the .dsc file itself.
	Artifact Artifact
}

// DscName returns the file name of the .dsc, "<source>_<version>.dsc".
func (s *SourceRecord) DscName() string {
	return fmt.Sprintf("%s_%s.dsc", s.Source, s.Version)
}

// PoolPath returns the path of the .dsc below the repository root when published in component.
func (s *SourceRecord) PoolPath(component string) string {
	return poolPath(component, s.Source, s.DscName())
}

// CheckPoolPath reports an error when the pool path of s in component would
// not stay below pool/.
func (s *SourceRecord) CheckPoolPath(component string) error {
	return checkPool(component, s.Source, s.DscName())
}

// PoolDir returns the pool directory holding the source package. It is the
// value of the Directory field of the Sources index.
func (s *SourceRecord) PoolDir(component string) string {
	return path.Dir(s.PoolPath(component))
}

// poolPath lays out "pool/<component>/<prefix>/<source>/<file>". The prefix is
// the first letter of the source name, or its first four letters for "lib" packages.
func poolPath(component, source, file string) string {
	return path.Join("pool", component, PoolPrefix(source), source, file)
}

// checkPool validates the values a pool path is made of.
func checkPool(component, source, file string) error {
	if err := CheckPath("component", component); err != nil {
		return err
	}
	if err := CheckName("source name", source); err != nil {
		return err
	}
	if err := CheckName("file name", file); err != nil {
		return err
	}
	if rel := poolPath(component, source, file); !filepath.IsLocal(filepath.FromSlash(rel)) || !strings.HasPrefix(rel, "pool/") {
		return fmt.Errorf("pool path %q leaves the pool", rel)
	}
	return nil
}

// PoolPrefix returns the pool subdirectory for a source name: "lib" names use
// their first four characters (or the whole name when shorter).
func PoolPrefix(source string) string {
	if strings.HasPrefix(source, "lib") {
		return source[:min(4, len(source))]
	}
	if source == "" {
		return ""
	}
	return source[:1]
}

// CheckName reports an error unless s can be used as a single element of a
// path of the repository tree.
func CheckName(what, s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%s is empty", what)
	case s == "." || s == "..", strings.ContainsAny(s, "/\\\x00"):
		return fmt.Errorf("%s %q is not a valid file name", what, s)
	}
	return nil
}

// CheckPath reports an error unless s is a relative, slash separated path
// made of elements accepted by CheckName, like "stable/updates".
func CheckPath(what, s string) error {
	if s == "" {
		return fmt.Errorf("%s is empty", what)
	}
	for _, e := range strings.Split(s, "/") {
		if CheckName(what, e) != nil {
			return fmt.Errorf("%s %q is not a valid relative path", what, s)
		}
	}
	if !filepath.IsLocal(filepath.FromSlash(s)) {
		return fmt.Errorf("%s %q is not a valid relative path", what, s)
	}
	return nil
}
