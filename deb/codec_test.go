package deb

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func yes() *bool { b := true; return &b }

func testPackageRecord() *PackageRecord {
	return &PackageRecord{
		Package:       "libfoo1",
		Source:        "libfoo (1.0-1)",
		Version:       "1.0-1",
		Architecture:  "amd64",
		Section:       "libs",
		Priority:      "optional",
		Essential:     yes(),
		InstalledSize: "42",
		Maintainer:    "Jane <jane@example.com>",
		Description:   "foo library\n The foo library does things.",
		Depends:       []string{"libc6 (>= 2.34)", "zlib1g | zlib-ng"},
		Extra:         map[string]string{"X-Team": "core", "Custom": "value"},
		Artifact: Artifact{
			Size:   1234,
			MD5:    "md5digest",
			SHA1:   "sha1digest",
			SHA256: "sha256digest",
		},
	}
}

func TestEncodePackageOrder(t *testing.T) {
	p, err := EncodePackage(testPackageRecord())
	if err != nil {
		t.Fatalf("EncodePackage failed: %v", err)
	}
	want := "Package: libfoo1\n" +
		"Source: libfoo (1.0-1)\n" +
		"Version: 1.0-1\n" +
		"Architecture: amd64\n" +
		"Section: libs\n" +
		"Priority: optional\n" +
		"Essential: yes\n" +
		"Installed-Size: 42\n" +
		"Maintainer: Jane <jane@example.com>\n" +
		"Description: foo library\n" +
		" The foo library does things.\n" +
		"Depends: libc6 (>= 2.34), zlib1g | zlib-ng\n" +
		"Custom: value\n" +
		"X-Team: core\n"
	if got := p.String(); got != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, got)
	}
}

func TestPackageIndexParagraph(t *testing.T) {
	p, err := testPackageRecord().IndexParagraph("main", []Algorithm{SHA1, SHA256, SHA512})
	if err != nil {
		t.Fatalf("IndexParagraph failed: %v", err)
	}
	keys := p.Keys()
	tail := strings.Join(keys[len(keys)-4:], ",")
	if tail != "Filename,Size,SHA1,SHA256" {
		t.Errorf("unexpected trailing fields %s", tail)
	}
	if got := p.Value("Filename"); got != "pool/main/libf/libfoo/libfoo1_1.0-1_amd64.deb" {
		t.Errorf("unexpected Filename %s", got)
	}
	if _, ok := p.Get("MD5sum"); ok {
		t.Errorf("MD5sum must not be written when md5 is disabled")
	}
}

func TestEncodePackageRequired(t *testing.T) {
	for _, f := range packageRequired {
		r := testPackageRecord()
		p, _ := EncodePackage(r)
		p.Delete(string(f))
		r, err := DecodePackage(p)
		if err != nil {
			t.Fatalf("DecodePackage failed: %v", err)
		}

		_, err = EncodePackage(r)
		var fe *FieldError
		if !errors.As(err, &fe) {
			t.Fatalf("missing %s: expected a FieldError, got %v", f, err)
		}
		if fe.Field != f {
			t.Errorf("expected field %s, got %s", f, fe.Field)
		}
	}
}

func TestDecodePackageIndex(t *testing.T) {
	content := "Package: foo\nVersion: 1.0\nArchitecture: all\nMaintainer: m\nDescription: d\n" +
		"Essential: no\nX-Custom: 1\nFilename: pool/all/f/foo/foo_1.0_all.deb\nSize: 10\n" +
		"MD5sum: a\nSHA1: b\nSHA256: c\nSHA512: d\n"
	p, err := ParseParagraph(content)
	if err != nil {
		t.Fatalf("ParseParagraph failed: %v", err)
	}
	r, err := DecodePackage(p)
	if err != nil {
		t.Fatalf("DecodePackage failed: %v", err)
	}
	want := Artifact{Size: 10, MD5: "a", SHA1: "b", SHA256: "c", SHA512: "d"}
	if r.Artifact != want {
		t.Errorf("expected artifact %+v, got %+v", want, r.Artifact)
	}
	if r.Essential == nil || *r.Essential {
		t.Errorf("expected Essential=no")
	}
	if len(r.Extra) != 1 || r.Extra["X-Custom"] != "1" {
		t.Errorf("unexpected extra fields %v", r.Extra)
	}
}

func TestDecodePackageInvalid(t *testing.T) {
	tests := []string{
		"Package: foo\nEssential: maybe\n",
		"Package: foo\nSize: ten\n",
	}
	for _, content := range tests {
		p, err := ParseParagraph(content)
		if err != nil {
			t.Fatalf("ParseParagraph failed: %v", err)
		}
		var fe *FieldError
		if _, err := DecodePackage(p); !errors.As(err, &fe) {
			t.Errorf("%q: expected a FieldError, got %v", content, err)
		}
	}
}

func testSourceRecord() *SourceRecord {
	return &SourceRecord{
		Format:           "3.0 (quilt)",
		Source:           "foo",
		Binary:           []string{"foo", "foo-doc"},
		Architecture:     "any all",
		Version:          "1.0-1",
		Maintainer:       "Jane <jane@example.com>",
		StandardsVersion: "4.6.0",
		BuildDepends:     []string{"debhelper-compat (= 13)"},
		PackageList:      "foo deb utils optional arch=any\n foo-doc deb doc optional arch=all",
		ChecksumsSha256: []ChecksumEntry{
			{Digest: "aaa", Size: 100, Name: "foo_1.0.orig.tar.gz"},
			{Digest: "bbb", Size: 20, Name: "foo_1.0-1.debian.tar.xz"},
		},
		Files: []ChecksumEntry{
			{Digest: "ccc", Size: 100, Name: "foo_1.0.orig.tar.gz"},
			{Digest: "ddd", Size: 20, Name: "foo_1.0-1.debian.tar.xz"},
		},
	}
}

func TestSourceIndexParagraph(t *testing.T) {
	p, err := testSourceRecord().IndexParagraph("main")
	if err != nil {
		t.Fatalf("IndexParagraph failed: %v", err)
	}
	want := "Format: 3.0 (quilt)\n" +
		"Binary: foo, foo-doc\n" +
		"Architecture: any all\n" +
		"Version: 1.0-1\n" +
		"Maintainer: Jane <jane@example.com>\n" +
		"Standards-Version: 4.6.0\n" +
		"Build-Depends: debhelper-compat (= 13)\n" +
		"Package-List:\n" +
		" foo deb utils optional arch=any\n" +
		" foo-doc deb doc optional arch=all\n" +
		"Checksums-Sha256:\n" +
		" aaa 100 foo_1.0.orig.tar.gz\n" +
		" bbb 20 foo_1.0-1.debian.tar.xz\n" +
		"Files:\n" +
		" ccc 100 foo_1.0.orig.tar.gz\n" +
		" ddd 20 foo_1.0-1.debian.tar.xz\n" +
		"Package: foo\n" +
		"Directory: pool/main/f/foo\n"
	if got := p.String(); got != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, got)
	}
}

func TestSourceRoundTrip(t *testing.T) {
	r := testSourceRecord()
	for _, render := range []func(*SourceRecord) (*Paragraph, error){
		EncodeSource,
		func(r *SourceRecord) (*Paragraph, error) { return r.IndexParagraph("main") },
	} {
		p, err := render(r)
		if err != nil {
			t.Fatalf("encoding failed: %v", err)
		}
		parsed, err := ParseParagraph(p.String())
		if err != nil {
			t.Fatalf("ParseParagraph failed: %v", err)
		}
		got, err := DecodeSource(parsed)
		if err != nil {
			t.Fatalf("DecodeSource failed: %v", err)
		}
		if !reflect.DeepEqual(got, r) {
			t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", r, got)
		}
	}
}

func TestPackageListLeadingNewline(t *testing.T) {
	r := testSourceRecord()
	r.PackageList = "\n" + " " + r.PackageList
	p, err := EncodeSource(r)
	if err != nil {
		t.Fatalf("EncodeSource failed: %v", err)
	}
	if !strings.Contains(p.String(), "Package-List:\n foo deb") {
		t.Errorf("unexpected rendering:\n%s", p)
	}
}

func TestEncodeSourceRequired(t *testing.T) {
	r := testSourceRecord()
	r.ChecksumsSha256 = nil
	var fe *FieldError
	if _, err := EncodeSource(r); !errors.As(err, &fe) || fe.Field != FieldChecksumsSha256 {
		t.Errorf("expected a FieldError on Checksums-Sha256, got %v", err)
	}
}

func TestParseChecksumsMalformed(t *testing.T) {
	for _, v := range []string{"\n abc 12", "\n abc twelve foo"} {
		if _, err := parseChecksums(v); err == nil {
			t.Errorf("%q: expected an error", v)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a, b (>= 1),\n c", []string{"a", "b (>= 1)", "c"}},
		{"a,,b", []string{"a", "b"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestPackageRoundTripProperty checks decode(parse(render(encode(r)))) == r.
func TestPackageRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	nilIfEmpty := func(s []string) []string {
		if len(s) == 0 {
			return nil
		}
		return s
	}

	properties.Property("package records survive a round trip", prop.ForAll(
		func(name, version, arch, section string, essential bool, depends, provides []string, size int64) bool {
			r := &PackageRecord{
				Package:      name,
				Version:      version,
				Architecture: arch,
				Section:      section,
				Essential:    &essential,
				Maintainer:   "Jane <jane@example.com>",
				Description:  "synopsis\n body of " + name,
				Depends:      nilIfEmpty(depends),
				Provides:     nilIfEmpty(provides),
				Artifact:     Artifact{Size: size, SHA256: "digest"},
			}
			p, err := r.IndexParagraph("main", []Algorithm{SHA256})
			if err != nil {
				return false
			}
			parsed, err := ParseParagraph(p.String())
			if err != nil {
				return false
			}
			got, err := DecodePackage(parsed)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(got, r)
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Identifier(),
		gen.AlphaString(),
		gen.Bool(),
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.Identifier()),
		gen.Int64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}
