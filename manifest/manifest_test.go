package manifest

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/etnz/apt-publish/apt"
	"github.com/etnz/apt-publish/deb/debtest"
)

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewManifestTemplates(t *testing.T) {
	t.Setenv("APT_PUBLISH_TEST_ROOT", "/srv/apt")
	dir := t.TempDir()
	path := writeManifest(t, dir, "apt.yaml", `
output: '{{ env "APT_PUBLISH_TEST_ROOT" }}/{{ .name }}'
simple: true
label: '{{ .name }}'
origin: '{{ env "APT_PUBLISH_TEST_UNSET" | default "acme" }}'
defines:
  name: stable
catalog:
  type: file
  path: catalog.yaml
`)
	m, err := NewManifest(path)
	if err != nil {
		t.Fatalf("NewManifest failed: %v", err)
	}
	if m.Output != "/srv/apt/stable" {
		t.Errorf("Output = %q", m.Output)
	}
	if m.Label != "stable" || m.Origin != "acme" {
		t.Errorf("Label = %q, Origin = %q", m.Label, m.Origin)
	}
	if got := m.Resolve(m.Catalog.Path); got != filepath.Join(dir, "catalog.yaml") {
		t.Errorf("Resolve = %q", got)
	}
	if got := m.Resolve("/abs/path"); got != "/abs/path" {
		t.Errorf("Resolve of an absolute path = %q", got)
	}
}

func TestNewManifestJSON(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "apt.json", `{
		"output": "repo",
		"structured": true,
		"checksums": ["SHA256"],
		"catalog": {"type": "postgres", "dsn": "postgres://localhost/apt"}
	}`)
	m, err := NewManifest(path)
	if err != nil {
		t.Fatalf("NewManifest failed: %v", err)
	}
	if !m.Structured || m.Simple || m.Catalog.DSN != "postgres://localhost/apt" {
		t.Errorf("unexpected manifest %+v", m)
	}
}

func TestNewManifestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", "output: repo\nsimple: true\ncolor: blue\ncatalog: {type: debs, path: .}\n"},
		{"no output", "simple: true\ncatalog: {type: debs, path: .}\n"},
		{"no mode", "output: repo\ncatalog: {type: debs, path: .}\n"},
		{"unknown catalog", "output: repo\nsimple: true\ncatalog: {type: ftp}\n"},
		{"catalog without path", "output: repo\nsimple: true\ncatalog: {type: file}\n"},
		{"postgres without dsn", "output: repo\nsimple: true\ncatalog: {type: postgres}\n"},
		{"bad checksum", "output: repo\nsimple: true\nchecksums: [CRC32]\ncatalog: {type: debs, path: .}\n"},
		{"unknown signing", "output: repo\nsimple: true\ncatalog: {type: debs, path: .}\nsigning: {type: x509}\n"},
		{"script without script", "output: repo\nsimple: true\ncatalog: {type: debs, path: .}\nsigning: {type: script}\n"},
		{"missing define", "output: '{{ .nope }}'\nsimple: true\ncatalog: {type: debs, path: .}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeManifest(t, t.TempDir(), "apt.yaml", tt.content)
			if _, err := NewManifest(path); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}

func TestPublishDebs(t *testing.T) {
	dir := t.TempDir()
	debs := filepath.Join(dir, "debs")
	debtest.WriteDeb(t, debs, "foo_1.0_amd64.deb", debtest.Control("foo", "1.0", "amd64"))
	debtest.WriteDeb(t, debs, "bar_2.0_all.deb", debtest.Control("bar", "2.0", "all"))

	path := writeManifest(t, dir, "apt.yaml", `
output: out/repo
simple: true
workers: 2
catalog:
  type: debs
  path: debs
store:
  dir: store
`)
	m, err := NewManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := m.Publish(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(pub.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", pub.Warnings)
	}

	output := filepath.Join(dir, "out", "repo")
	if err := apt.VerifyTree(output, "default"); err != nil {
		t.Errorf("VerifyTree failed: %v", err)
	}

	var pooled int
	err = filepath.WalkDir(filepath.Join(output, "pool"), func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(d.Name(), ".deb") {
			pooled++
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if pooled != 2 {
		t.Errorf("expected 2 pooled packages, got %d", pooled)
	}

	// the store now holds the imported packages
	if es, err := os.ReadDir(filepath.Join(dir, "store")); err != nil || len(es) == 0 {
		t.Errorf("store was not populated: %v", err)
	}
}

func TestPublishVerbatim(t *testing.T) {
	dir := t.TempDir()
	debs := filepath.Join(dir, "debs")
	debtest.WriteDeb(t, debs, "main/foo_1.0_amd64.deb", debtest.Control("foo", "1.0", "amd64"))

	path := writeManifest(t, dir, "apt.yaml", `
output: repo
verbatim: true
catalog:
  type: debs
  path: debs
`)
	m, err := NewManifest(path)
	if err != nil {
		t.Fatalf("NewManifest failed: %v", err)
	}
	pub, err := m.Publish(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(pub.Releases) != 0 {
		t.Errorf("verbatim publication has %d releases", len(pub.Releases))
	}
	if _, err := os.Stat(filepath.Join(dir, "repo", "main", "foo_1.0_amd64.deb")); err != nil {
		t.Errorf("package not published at its path: %v", err)
	}
}

func armoredKey(t *testing.T) string {
	t.Helper()
	entity, err := openpgp.NewEntity("Test", "test", "test@example.com", nil)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		t.Fatal(err)
	}
	w.Close()
	return buf.String()
}

func TestSigner(t *testing.T) {
	dir := t.TempDir()
	key := armoredKey(t)
	if err := os.WriteFile(filepath.Join(dir, "key.asc"), []byte(key), 0600); err != nil {
		t.Fatal(err)
	}

	t.Run("key file", func(t *testing.T) {
		m := &Manifest{filePath: filepath.Join(dir, "apt.yaml")}
		m.Signing = SigningConfig{Type: "openpgp", KeyFile: "key.asc", ExportPublicKey: true}
		s, files, err := m.Signer()
		if err != nil {
			t.Fatalf("Signer failed: %v", err)
		}
		if _, ok := s.(*apt.OpenPGPSigner); !ok {
			t.Errorf("unexpected signer %T", s)
		}
		if len(files["public.gpg"]) == 0 {
			t.Errorf("public.gpg is empty")
		}
		if !strings.HasPrefix(string(files["public.asc"]), "-----BEGIN PGP PUBLIC KEY BLOCK-----") {
			t.Errorf("public.asc is not armored")
		}
	})

	t.Run("default env", func(t *testing.T) {
		t.Setenv(DefaultKeyEnv, key)
		m := &Manifest{Signing: SigningConfig{Type: "openpgp"}}
		_, files, err := m.Signer()
		if err != nil {
			t.Fatalf("Signer failed: %v", err)
		}
		if files != nil {
			t.Errorf("public key exported without export_public_key")
		}
	})

	t.Run("empty env", func(t *testing.T) {
		m := &Manifest{Signing: SigningConfig{Type: "openpgp", KeyEnv: "APT_PUBLISH_TEST_NO_KEY"}}
		if _, _, err := m.Signer(); err == nil {
			t.Errorf("expected an error for an empty key variable")
		}
	})

	t.Run("unsigned", func(t *testing.T) {
		s, _, err := (&Manifest{}).Signer()
		if err != nil || s != nil {
			t.Errorf("expected no signer, got %v %v", s, err)
		}
	})

	t.Run("script", func(t *testing.T) {
		m := &Manifest{filePath: filepath.Join(dir, "apt.yaml")}
		m.Signing = SigningConfig{Type: "script", Script: "sign.sh", KeyID: "ABCD"}
		s, _, err := m.Signer()
		if err != nil {
			t.Fatal(err)
		}
		ss, ok := s.(*apt.ScriptSigner)
		if !ok || ss.Script != filepath.Join(dir, "sign.sh") || ss.KeyID != "ABCD" {
			t.Errorf("unexpected signer %+v", s)
		}
	})
}
