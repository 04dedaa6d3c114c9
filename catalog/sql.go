package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/etnz/apt-publish/deb"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Schema creates the tables read by Load. Content rows hold the control text
// of packages and .dsc files as found in the archive.
const Schema = `
CREATE TABLE IF NOT EXISTS repository (
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS content (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	relative_path TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	md5 TEXT NOT NULL DEFAULT '',
	sha1 TEXT NOT NULL DEFAULT '',
	sha256 TEXT NOT NULL,
	sha512 TEXT NOT NULL DEFAULT '',
	control TEXT NOT NULL DEFAULT '',
	created INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS releases (
	id TEXT PRIMARY KEY,
	codename TEXT NOT NULL DEFAULT '',
	suite TEXT NOT NULL DEFAULT '',
	distribution TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS release_architectures (
	id TEXT PRIMARY KEY,
	release_id TEXT NOT NULL,
	architecture TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS release_components (
	id TEXT PRIMARY KEY,
	release_id TEXT NOT NULL,
	component TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS component_content (
	component_id TEXT NOT NULL,
	content_id TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0
);`

const (
	queryRepository    = `SELECT name, description, version FROM repository LIMIT 1`
	queryContent       = `SELECT id, kind, name, relative_path, size, md5, sha1, sha256, sha512, control FROM content ORDER BY created DESC, id`
	queryReleases      = `SELECT id, codename, suite, distribution FROM releases ORDER BY id`
	queryArchitectures = `SELECT id, release_id, architecture FROM release_architectures ORDER BY id`
	queryComponents    = `SELECT id, release_id, component FROM release_components ORDER BY id`
	queryMemberships   = `SELECT m.component_id, m.content_id, c.kind FROM component_content m LEFT JOIN content c ON c.id = m.content_id ORDER BY m.position, m.content_id`
)

// Migrate creates the catalog tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

// LoadSQL opens the database named by driver ("sqlite" or "postgres") and
// dsn, and loads its snapshot.
func LoadSQL(ctx context.Context, driver, dsn string) (*Snapshot, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	return Load(ctx, db)
}

// Load reads a snapshot from a database created with Schema.
// A membership pointing at absent content is kept so that it is reported when published.
func Load(ctx context.Context, db *sql.DB) (*Snapshot, error) {
	snap := &Snapshot{}

	err := db.QueryRowContext(ctx, queryRepository).Scan(&snap.Repository.Name, &snap.Repository.Description, &snap.Repository.Version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading repository: %w", err)
	}

	if err := loadContent(ctx, db, snap); err != nil {
		return nil, fmt.Errorf("loading content: %w", err)
	}

	err = query(ctx, db, queryReleases, func(rows *sql.Rows) error {
		var r Release
		if err := rows.Scan(&r.ID, &r.Codename, &r.Suite, &r.Distribution); err != nil {
			return err
		}
		snap.Releases = append(snap.Releases, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading releases: %w", err)
	}

	err = query(ctx, db, queryArchitectures, func(rows *sql.Rows) error {
		var a ReleaseArchitecture
		if err := rows.Scan(&a.ID, &a.ReleaseID, &a.Architecture); err != nil {
			return err
		}
		snap.Architectures = append(snap.Architectures, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading release architectures: %w", err)
	}

	err = query(ctx, db, queryComponents, func(rows *sql.Rows) error {
		var c ReleaseComponent
		if err := rows.Scan(&c.ID, &c.ReleaseID, &c.Component); err != nil {
			return err
		}
		snap.Components = append(snap.Components, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading release components: %w", err)
	}

	err = query(ctx, db, queryMemberships, func(rows *sql.Rows) error {
		var m Membership
		var kind sql.NullString
		if err := rows.Scan(&m.ComponentID, &m.ContentID, &kind); err != nil {
			return err
		}
		switch kind.String {
		case deb.KindDscFile.String():
			snap.SourceMemberships = append(snap.SourceMemberships, m)
		case deb.KindSourceFile.String():
			snap.SourceFileMemberships = append(snap.SourceFileMemberships, m)
		default:
			// packages, and memberships of unknown content
			snap.PackageMemberships = append(snap.PackageMemberships, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading memberships: %w", err)
	}
	return snap, nil
}

func loadContent(ctx context.Context, db *sql.DB, snap *Snapshot) error {
	return query(ctx, db, queryContent, func(rows *sql.Rows) error {
		var (
			id, kindName, name, control string
			a                           deb.Artifact
		)
		if err := rows.Scan(&id, &kindName, &name, &a.RelativePath, &a.Size, &a.MD5, &a.SHA1, &a.SHA256, &a.SHA512, &control); err != nil {
			return err
		}
		kind, err := deb.ParseContentKind(kindName)
		if err != nil {
			return fmt.Errorf("content %s: %w", id, err)
		}
		switch kind {
		case deb.KindPackage, deb.KindInstallerPackage:
			p, err := deb.ParseParagraph(control)
			if err != nil {
				return fmt.Errorf("content %s: %w", id, err)
			}
			rec, err := deb.DecodePackage(p)
			if err != nil {
				return fmt.Errorf("content %s: %w", id, err)
			}
			rec.ID, rec.Kind, rec.Artifact = id, kind, a
			snap.Packages = append(snap.Packages, rec)
		case deb.KindDscFile:
			rec, err := deb.ParseDsc([]byte(control))
			if err != nil {
				return fmt.Errorf("content %s: %w", id, err)
			}
			rec.ID, rec.Artifact = id, a
			snap.Sources = append(snap.Sources, rec)
		case deb.KindSourceFile:
			snap.SourceFiles = append(snap.SourceFiles, &deb.SourceFile{ID: id, Name: name, Artifact: a})
		}
		return nil
	})
}

// query runs q and calls scan for every row.
func query(ctx context.Context, db *sql.DB, q string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
