// Package manifest provides the declarative configuration of a publication:
// where the catalog is read from, how releases are signed, and where the
// repository tree is promoted.
package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/etnz/apt-publish/apt"
	"github.com/etnz/apt-publish/catalog"
	"github.com/etnz/apt-publish/deb"
	"github.com/etnz/apt-publish/publish"
)

// DefaultKeyEnv is the environment variable holding the armored private key
// when neither key_file nor key_env is set.
const DefaultKeyEnv = "GPG_PRIVATE_KEY"

// Manifest is the configuration of a publication.
type Manifest struct {
	// Output is the path of the symbolic link pointing to the published tree.
	Output string `json:"output" yaml:"output"`
	// Simple, Structured and Verbatim select the publishing modes.
	Simple     bool `json:"simple" yaml:"simple"`
	Structured bool `json:"structured" yaml:"structured"`
	Verbatim   bool `json:"verbatim" yaml:"verbatim"`
	// Origin, Label and Description override the values published in Release files.
	Origin      string `json:"origin" yaml:"origin"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description" yaml:"description"`
	// Workers is the number of releases built concurrently.
	Workers int `json:"workers" yaml:"workers"`
	// Checksums lists the enabled digest algorithms. Empty enables all of them.
	Checksums []string `json:"checksums" yaml:"checksums"`
	// Defines is a map of global variables available to templates.
	Defines map[string]string `json:"defines" yaml:"defines"`

	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Signing SigningConfig `json:"signing" yaml:"signing"`

	filePath string
	engine   *templateEngine
}

// CatalogConfig tells where the repository version is read from.
type CatalogConfig struct {
	// Type is one of "file", "sqlite", "postgres" or "debs".
	Type string `json:"type" yaml:"type"`
	// Path is the snapshot document, the sqlite database, or the directory of packages.
	Path string `json:"path" yaml:"path"`
	// DSN is the data source name of a database, e.g. "postgres://user@host/db".
	DSN string `json:"dsn" yaml:"dsn"`
}

// StoreConfig locates the content of the catalog.
type StoreConfig struct {
	// Dir is a content-addressed directory, see catalog.DirStore.
	Dir string `json:"dir" yaml:"dir"`
}

// SigningConfig selects how Release files are signed. An empty Type publishes unsigned.
type SigningConfig struct {
	// Type is "openpgp" or "script".
	Type string `json:"type" yaml:"type"`
	// KeyFile or KeyEnv provide the armored private key of the openpgp signer.
	KeyFile       string `json:"key_file" yaml:"key_file"`
	KeyEnv        string `json:"key_env" yaml:"key_env"`
	PassphraseEnv string `json:"passphrase_env" yaml:"passphrase_env"`
	// ExportPublicKey writes public.gpg and public.asc at the root of the tree.
	ExportPublicKey bool `json:"export_public_key" yaml:"export_public_key"`
	// Script and KeyID configure the script signer.
	Script string `json:"script" yaml:"script"`
	KeyID  string `json:"key_id" yaml:"key_id"`
}

// NewManifest loads and parses a Manifest from the specified file path.
// It supports both JSON and YAML formats based on the file extension.
// String values are rendered as templates over Defines.
func NewManifest(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := catalog.Unmarshal(path, content, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	m.filePath = path
	m.engine = newTemplateEngine(m.Defines)

	if err := m.render(); err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// render expands the templates of every string setting.
func (m *Manifest) render() error {
	fields := map[string]*string{
		"output":                 &m.Output,
		"origin":                 &m.Origin,
		"label":                  &m.Label,
		"description":            &m.Description,
		"catalog.path":           &m.Catalog.Path,
		"catalog.dsn":            &m.Catalog.DSN,
		"store.dir":              &m.Store.Dir,
		"signing.key_file":       &m.Signing.KeyFile,
		"signing.key_env":        &m.Signing.KeyEnv,
		"signing.passphrase_env": &m.Signing.PassphraseEnv,
		"signing.script":         &m.Signing.Script,
		"signing.key_id":         &m.Signing.KeyID,
	}
	for name, v := range fields {
		r, err := m.engine.render(name, *v)
		if err != nil {
			return fmt.Errorf("rendering %s: %w", name, err)
		}
		*v = r
	}
	return nil
}

func (m *Manifest) validate() error {
	if m.Output == "" {
		return fmt.Errorf("manifest must specify 'output'")
	}
	if !m.Simple && !m.Structured && !m.Verbatim {
		return fmt.Errorf("manifest must enable 'simple', 'structured' or 'verbatim'")
	}
	if _, err := deb.ParseAlgorithms(m.Checksums); err != nil {
		return err
	}
	switch m.Catalog.Type {
	case "file", "debs":
		if m.Catalog.Path == "" {
			return fmt.Errorf("catalog of type %s requires a path", m.Catalog.Type)
		}
	case "sqlite":
		if m.Catalog.Path == "" && m.Catalog.DSN == "" {
			return fmt.Errorf("catalog of type sqlite requires a path or a dsn")
		}
	case "postgres":
		if m.Catalog.DSN == "" {
			return fmt.Errorf("catalog of type postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unknown catalog type %q", m.Catalog.Type)
	}
	switch m.Signing.Type {
	case "", "openpgp":
	case "script":
		if m.Signing.Script == "" {
			return fmt.Errorf("script signing requires a script")
		}
	default:
		return fmt.Errorf("unknown signing type %q", m.Signing.Type)
	}
	return nil
}

// Resolve returns path relative to the manifest directory, unless it is absolute.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(m.filePath), path)
}

// LoadCatalog reads the snapshot to publish and the store holding its content.
// The store is nil when the content is not available locally.
func (m *Manifest) LoadCatalog(ctx context.Context) (*catalog.Snapshot, catalog.Store, error) {
	var (
		snap  *catalog.Snapshot
		store catalog.Store
		err   error
	)
	if m.Store.Dir != "" {
		store = catalog.DirStore{Root: m.Resolve(m.Store.Dir)}
	}

	switch m.Catalog.Type {
	case "file":
		snap, err = catalog.LoadFile(m.Resolve(m.Catalog.Path))
	case "sqlite":
		dsn := m.Catalog.DSN
		if dsn == "" {
			dsn = m.Resolve(m.Catalog.Path)
		}
		snap, err = catalog.LoadSQL(ctx, "sqlite", dsn)
	case "postgres":
		snap, err = catalog.LoadSQL(ctx, "postgres", m.Catalog.DSN)
	case "debs":
		var scanned catalog.MapStore
		snap, scanned, err = catalog.ScanDebs(m.Resolve(m.Catalog.Path))
		if err != nil {
			break
		}
		if ds, ok := store.(catalog.DirStore); ok {
			err = ds.Import(snap, scanned)
		} else {
			store = scanned
		}
	default:
		err = fmt.Errorf("unknown catalog type %q", m.Catalog.Type)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if m.Label != "" {
		snap.Repository.Name = m.Label
	}
	if m.Description != "" {
		snap.Repository.Description = m.Description
	}
	return snap, store, nil
}

// Signer builds the configured signer. The returned files hold the public
// key to publish, if requested.
func (m *Manifest) Signer() (apt.Signer, map[string][]byte, error) {
	switch m.Signing.Type {
	case "":
		return nil, nil, nil
	case "script":
		return &apt.ScriptSigner{Script: m.Resolve(m.Signing.Script), KeyID: m.Signing.KeyID}, nil, nil
	case "openpgp":
	default:
		return nil, nil, fmt.Errorf("unknown signing type %q", m.Signing.Type)
	}

	var key string
	if m.Signing.KeyFile != "" {
		b, err := os.ReadFile(m.Resolve(m.Signing.KeyFile))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		key = string(b)
	} else {
		env := m.Signing.KeyEnv
		if env == "" {
			env = DefaultKeyEnv
		}
		key = os.Getenv(env)
		if key == "" {
			return nil, nil, fmt.Errorf("signing key variable %s is empty", env)
		}
	}
	var passphrase []byte
	if m.Signing.PassphraseEnv != "" {
		passphrase = []byte(os.Getenv(m.Signing.PassphraseEnv))
	}
	signer, err := apt.NewOpenPGPSigner(key, passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	if !m.Signing.ExportPublicKey {
		return signer, nil, nil
	}

	files := make(map[string][]byte, 2)
	for name, armored := range map[string]bool{"public.gpg": false, "public.asc": true} {
		b, err := signer.PublicKey(armored)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to export public key: %w", err)
		}
		files[name] = b
	}
	return signer, files, nil
}

// Publisher builds the publisher described by the manifest.
func (m *Manifest) Publisher(store catalog.Store, logger *slog.Logger, l publish.Listener) (*publish.Publisher, error) {
	algs, err := deb.ParseAlgorithms(m.Checksums)
	if err != nil {
		return nil, err
	}
	signer, files, err := m.Signer()
	if err != nil {
		return nil, err
	}
	return publish.New(publish.Options{
		Simple:     m.Simple,
		Structured: m.Structured,
		Verbatim:   m.Verbatim,
		Origin:     m.Origin,
		Algorithms: algs,
		Signer:     signer,
		Store:      store,
		Files:      files,
		Workers:    m.Workers,
		Logger:     logger,
		Listener:   l,
	}), nil
}

// Publish loads the catalog and promotes its publication at Output.
func (m *Manifest) Publish(ctx context.Context, logger *slog.Logger, l publish.Listener) (*publish.Publication, error) {
	snap, store, err := m.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	p, err := m.Publisher(store, logger, l)
	if err != nil {
		return nil, err
	}
	return p.Publish(ctx, snap, m.Resolve(m.Output))
}
