package deb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FieldError reports a record that cannot be mapped to or from a control paragraph.
type FieldError struct {
	// Record names the record, e.g. "foo_1.0_amd64".
	Record string
	Field  ControlField
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %s: %s", e.Record, e.Field, e.Reason)
}

// field maps one control field to a member of the record type T.
type field[T any] struct {
	name ControlField
	get  func(*T) string
	set  func(*T, string) error
}

func text[T any](name ControlField, ptr func(*T) *string) field[T] {
	return field[T]{
		name: name,
		get:  func(r *T) string { return *ptr(r) },
		set:  func(r *T, v string) error { *ptr(r) = v; return nil },
	}
}

// list fields are comma separated, e.g. relationship fields.
func list[T any](name ControlField, ptr func(*T) *[]string) field[T] {
	return field[T]{
		name: name,
		get:  func(r *T) string { return strings.Join(*ptr(r), ", ") },
		set:  func(r *T, v string) error { *ptr(r) = splitList(v); return nil },
	}
}

// flag fields hold "yes" or "no".
func flag[T any](name ControlField, ptr func(*T) **bool) field[T] {
	return field[T]{
		name: name,
		get: func(r *T) string {
			b := *ptr(r)
			switch {
			case b == nil:
				return ""
			case *b:
				return "yes"
			default:
				return "no"
			}
		},
		set: func(r *T, v string) error {
			var b bool
			switch strings.ToLower(v) {
			case "yes":
				b = true
			case "no":
				b = false
			default:
				return fmt.Errorf("expected yes or no, got %q", v)
			}
			*ptr(r) = &b
			return nil
		},
	}
}

// checksums fields are multi-line lists of "<digest> <size> <name>" rows
// starting on the line after the field name.
func checksums[T any](name ControlField, ptr func(*T) *[]ChecksumEntry) field[T] {
	return field[T]{
		name: name,
		get: func(r *T) string {
			var b strings.Builder
			for _, e := range *ptr(r) {
				fmt.Fprintf(&b, "\n %s %d %s", e.Digest, e.Size, e.Name)
			}
			return b.String()
		},
		set: func(r *T, v string) error {
			entries, err := parseChecksums(v)
			if err != nil {
				return err
			}
			*ptr(r) = entries
			return nil
		},
	}
}

// packageList restores the leading newline that storage strips from the
// first Package-List entry, and strips it again when decoding.
func packageList[T any](name ControlField, ptr func(*T) *string) field[T] {
	return field[T]{
		name: name,
		get: func(r *T) string {
			v := *ptr(r)
			if v != "" && !strings.HasPrefix(v, "\n") {
				v = "\n " + v
			}
			return v
		},
		set: func(r *T, v string) error { *ptr(r) = strings.TrimSpace(v); return nil },
	}
}

// packageFields is the field map of binary packages, in writing order.
var packageFields = []field[PackageRecord]{
	text(FieldPackage, func(r *PackageRecord) *string { return &r.Package }),
	text(FieldSource, func(r *PackageRecord) *string { return &r.Source }),
	text(FieldVersion, func(r *PackageRecord) *string { return &r.Version }),
	text(FieldArchitecture, func(r *PackageRecord) *string { return &r.Architecture }),
	text(FieldSection, func(r *PackageRecord) *string { return &r.Section }),
	text(FieldPriority, func(r *PackageRecord) *string { return &r.Priority }),
	text(FieldOrigin, func(r *PackageRecord) *string { return &r.Origin }),
	text(FieldTag, func(r *PackageRecord) *string { return &r.Tag }),
	text(FieldBugs, func(r *PackageRecord) *string { return &r.Bugs }),
	flag(FieldEssential, func(r *PackageRecord) **bool { return &r.Essential }),
	flag(FieldBuildEssential, func(r *PackageRecord) **bool { return &r.BuildEssential }),
	text(FieldInstalledSize, func(r *PackageRecord) *string { return &r.InstalledSize }),
	text(FieldMaintainer, func(r *PackageRecord) *string { return &r.Maintainer }),
	text(FieldOriginalMaintainer, func(r *PackageRecord) *string { return &r.OriginalMaintainer }),
	text(FieldDescription, func(r *PackageRecord) *string { return &r.Description }),
	text(FieldDescriptionMD5, func(r *PackageRecord) *string { return &r.DescriptionMD5 }),
	text(FieldHomepage, func(r *PackageRecord) *string { return &r.Homepage }),
	text(FieldBuiltUsing, func(r *PackageRecord) *string { return &r.BuiltUsing }),
	text(FieldAutoBuiltPackage, func(r *PackageRecord) *string { return &r.AutoBuiltPackage }),
	text(FieldMultiArch, func(r *PackageRecord) *string { return &r.MultiArch }),
	list(FieldBreaks, func(r *PackageRecord) *[]string { return &r.Breaks }),
	list(FieldConflicts, func(r *PackageRecord) *[]string { return &r.Conflicts }),
	list(FieldDepends, func(r *PackageRecord) *[]string { return &r.Depends }),
	list(FieldRecommends, func(r *PackageRecord) *[]string { return &r.Recommends }),
	list(FieldSuggests, func(r *PackageRecord) *[]string { return &r.Suggests }),
	list(FieldEnhances, func(r *PackageRecord) *[]string { return &r.Enhances }),
	list(FieldPreDepends, func(r *PackageRecord) *[]string { return &r.PreDepends }),
	list(FieldProvides, func(r *PackageRecord) *[]string { return &r.Provides }),
	list(FieldReplaces, func(r *PackageRecord) *[]string { return &r.Replaces }),
}

var packageRequired = []ControlField{FieldPackage, FieldVersion, FieldArchitecture, FieldMaintainer, FieldDescription}

// sourceFields is the field map of source control files, in writing order.
var sourceFields = []field[SourceRecord]{
	text(FieldFormat, func(r *SourceRecord) *string { return &r.Format }),
	text(FieldSource, func(r *SourceRecord) *string { return &r.Source }),
	list(FieldBinary, func(r *SourceRecord) *[]string { return &r.Binary }),
	text(FieldArchitecture, func(r *SourceRecord) *string { return &r.Architecture }),
	text(FieldVersion, func(r *SourceRecord) *string { return &r.Version }),
	text(FieldMaintainer, func(r *SourceRecord) *string { return &r.Maintainer }),
	text(FieldUploaders, func(r *SourceRecord) *string { return &r.Uploaders }),
	text(FieldHomepage, func(r *SourceRecord) *string { return &r.Homepage }),
	text(FieldVcsBrowser, func(r *SourceRecord) *string { return &r.VcsBrowser }),
	text(FieldVcsArch, func(r *SourceRecord) *string { return &r.VcsArch }),
	text(FieldVcsBzr, func(r *SourceRecord) *string { return &r.VcsBzr }),
	text(FieldVcsCvs, func(r *SourceRecord) *string { return &r.VcsCvs }),
	text(FieldVcsDarcs, func(r *SourceRecord) *string { return &r.VcsDarcs }),
	text(FieldVcsGit, func(r *SourceRecord) *string { return &r.VcsGit }),
	text(FieldVcsHg, func(r *SourceRecord) *string { return &r.VcsHg }),
	text(FieldVcsMtn, func(r *SourceRecord) *string { return &r.VcsMtn }),
	text(FieldVcsSvn, func(r *SourceRecord) *string { return &r.VcsSvn }),
	text(FieldTestsuite, func(r *SourceRecord) *string { return &r.Testsuite }),
	text(FieldDgit, func(r *SourceRecord) *string { return &r.Dgit }),
	text(FieldStandardsVersion, func(r *SourceRecord) *string { return &r.StandardsVersion }),
	list(FieldBuildDepends, func(r *SourceRecord) *[]string { return &r.BuildDepends }),
	list(FieldBuildDependsIndep, func(r *SourceRecord) *[]string { return &r.BuildDependsIndep }),
	list(FieldBuildDependsArch, func(r *SourceRecord) *[]string { return &r.BuildDependsArch }),
	list(FieldBuildConflicts, func(r *SourceRecord) *[]string { return &r.BuildConflicts }),
	list(FieldBuildConflictsIndep, func(r *SourceRecord) *[]string { return &r.BuildConflictsIndep }),
	list(FieldBuildConflictsArch, func(r *SourceRecord) *[]string { return &r.BuildConflictsArch }),
	packageList(FieldPackageList, func(r *SourceRecord) *string { return &r.PackageList }),
	checksums(FieldChecksumsSha1, func(r *SourceRecord) *[]ChecksumEntry { return &r.ChecksumsSha1 }),
	checksums(FieldChecksumsSha256, func(r *SourceRecord) *[]ChecksumEntry { return &r.ChecksumsSha256 }),
	checksums(FieldChecksumsSha512, func(r *SourceRecord) *[]ChecksumEntry { return &r.ChecksumsSha512 }),
	checksums(FieldFiles, func(r *SourceRecord) *[]ChecksumEntry { return &r.Files }),
}

var sourceRequired = []ControlField{FieldFormat, FieldSource, FieldVersion, FieldMaintainer, FieldStandardsVersion, FieldChecksumsSha256, FieldFiles}

// encode writes every set field of r in table order, then the extra fields sorted by name.
func encode[T any](name string, r *T, fields []field[T], required []ControlField, extra map[string]string) (*Paragraph, error) {
	p := NewParagraph()
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[string(f.name)] = true
		if v := f.get(r); v != "" {
			p.Set(string(f.name), v)
		}
	}
	for _, req := range required {
		if _, ok := p.Get(string(req)); !ok {
			return nil, &FieldError{Record: name, Field: req, Reason: "required field is missing"}
		}
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !known[k] && extra[k] != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Set(k, extra[k])
	}
	return p, nil
}

// decode fills r from p. Fields unknown to the table are passed to other.
func decode[T any](name string, p *Paragraph, r *T, fields []field[T], other func(key, value string) error) error {
	byName := make(map[string]field[T], len(fields))
	for _, f := range fields {
		byName[string(f.name)] = f
	}
	for _, k := range p.Keys() {
		v := p.Value(k)
		if f, ok := byName[k]; ok {
			if err := f.set(r, v); err != nil {
				return &FieldError{Record: name, Field: f.name, Reason: err.Error()}
			}
			continue
		}
		if err := other(k, v); err != nil {
			return &FieldError{Record: name, Field: ControlField(k), Reason: err.Error()}
		}
	}
	return nil
}

// EncodePackage maps a binary package record to its control paragraph.
// Unset fields are omitted. A missing required field is reported as a *FieldError.
func EncodePackage(r *PackageRecord) (*Paragraph, error) {
	return encode(r.Name(), r, packageFields, packageRequired, r.Extra)
}

// IndexParagraph returns the paragraph of r in the Packages index of
// component: the control fields followed by Filename, Size and one digest
// field per enabled algorithm the artifact carries.
func (r *PackageRecord) IndexParagraph(component string, algs []Algorithm) (*Paragraph, error) {
	p, err := EncodePackage(r)
	if err != nil {
		return nil, err
	}
	if r.Artifact.SHA256 == "" {
		return nil, &FieldError{Record: r.Name(), Field: FieldSHA256, Reason: "artifact digest is missing"}
	}
	p.Set(string(FieldFilename), r.PoolPath(component))
	p.Set(string(FieldSize), strconv.FormatInt(r.Artifact.Size, 10))
	for _, a := range algs {
		if d := r.Artifact.Digest(a); d != "" {
			p.Set(string(a.PackageField()), d)
		}
	}
	return p, nil
}

// DecodePackage maps a control paragraph, either from a .deb or from a
// Packages index, to a binary package record. Index fields fill the artifact.
func DecodePackage(p *Paragraph) (*PackageRecord, error) {
	r := &PackageRecord{}
	name := p.Value(string(FieldPackage))
	err := decode(name, p, r, packageFields, func(k, v string) error {
		switch ControlField(k) {
		case FieldFilename:
		case FieldSize:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			r.Artifact.Size = n
		case FieldMD5sum:
			r.Artifact.MD5 = v
		case FieldSHA1:
			r.Artifact.SHA1 = v
		case FieldSHA256:
			r.Artifact.SHA256 = v
		case FieldSHA512:
			r.Artifact.SHA512 = v
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]string)
			}
			r.Extra[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// EncodeSource maps a source record to its .dsc paragraph.
func EncodeSource(r *SourceRecord) (*Paragraph, error) {
	return encode(r.DscName(), r, sourceFields, sourceRequired, r.Extra)
}

// IndexParagraph returns the paragraph of r in the Sources index of
// component. Source is renamed to Package and moved after the checksum
// lists, and Directory names the pool directory.
func (r *SourceRecord) IndexParagraph(component string) (*Paragraph, error) {
	p, err := EncodeSource(r)
	if err != nil {
		return nil, err
	}
	p.Delete(string(FieldSource))
	p.Set(string(FieldPackage), r.Source)
	p.Set(string(FieldDirectory), r.PoolDir(component))
	return p, nil
}

// DecodeSource maps a .dsc paragraph, or a Sources index paragraph, to a source record.
func DecodeSource(p *Paragraph) (*SourceRecord, error) {
	r := &SourceRecord{}
	name := p.Value(string(FieldSource))
	if name == "" {
		name = p.Value(string(FieldPackage))
	}
	err := decode(name, p, r, sourceFields, func(k, v string) error {
		switch ControlField(k) {
		case FieldPackage:
			if r.Source == "" {
				r.Source = v
			}
		case FieldDirectory:
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]string)
			}
			r.Extra[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// parseChecksums parses the rows of a source checksum list.
func parseChecksums(v string) ([]ChecksumEntry, error) {
	var res []ChecksumEntry
	for _, line := range strings.Split(v, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed checksum row %q", strings.TrimSpace(line))
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed size in checksum row %q", strings.TrimSpace(line))
		}
		res = append(res, ChecksumEntry{Digest: fields[0], Size: size, Name: fields[2]})
	}
	return res, nil
}

// splitList splits a comma-separated value, which may span several lines,
// trimming whitespace from each element. It returns nil if the value is empty.
func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var res []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			res = append(res, p)
		}
	}
	return res
}
