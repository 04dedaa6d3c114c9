package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/etnz/apt-publish/deb"
)

// ScanDebs builds a snapshot from the .deb, .udeb and .dsc files found below
// dir. The constituents of a .dsc are looked up next to it. The returned
// store maps every recorded digest to the file it was read from.
//
// Records are identified by their sha256 digest and ordered by path.
func ScanDebs(dir string) (*Snapshot, MapStore, error) {
	snap := &Snapshot{Repository: Repository{Name: filepath.Base(filepath.Clean(dir))}}
	store := make(MapStore)

	var dscs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(path) {
		case ".deb", ".udeb":
			rec, err := deb.ReadPackage(path)
			if err != nil {
				return err
			}
			rec.ID = rec.Artifact.SHA256
			rec.Artifact.RelativePath = relative(dir, path)
			if _, ok := store[rec.ID]; ok {
				return nil
			}
			store[rec.ID] = path
			snap.Packages = append(snap.Packages, rec)
		case ".dsc":
			dscs = append(dscs, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	for _, path := range dscs {
		rec, err := deb.ReadDsc(path)
		if err != nil {
			return nil, nil, err
		}
		rec.ID = rec.Artifact.SHA256
		rec.Artifact.RelativePath = relative(dir, path)
		if _, ok := store[rec.ID]; ok {
			continue
		}
		store[rec.ID] = path
		snap.Sources = append(snap.Sources, rec)

		for _, e := range rec.ChecksumsSha256 {
			fpath := filepath.Join(filepath.Dir(path), e.Name)
			size, digests, err := deb.HashFile(fpath, deb.AllAlgorithms)
			if errors.Is(err, fs.ErrNotExist) {
				// reported as a missing constituent when published
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			sf := &deb.SourceFile{
				ID:   digests[deb.SHA256],
				Name: e.Name,
				Artifact: deb.Artifact{
					RelativePath: relative(dir, fpath),
					Size:         size,
				},
			}
			for a, d := range digests {
				sf.Artifact.SetDigest(a, d)
			}
			if _, ok := store[sf.ID]; ok {
				continue
			}
			store[sf.ID] = fpath
			snap.SourceFiles = append(snap.SourceFiles, sf)
		}
	}
	return snap, store, nil
}

// relative returns path relative to dir with forward slashes.
func relative(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Import copies the content of every record of snap from src into s.
// Digests are checked against the records.
func (s DirStore) Import(snap *Snapshot, src MapStore) error {
	check := func(a deb.Artifact) error {
		path, ok := src[a.SHA256]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, a.SHA256)
		}
		got, err := s.PutFile(path)
		if err != nil {
			return err
		}
		if got.SHA256 != a.SHA256 {
			return fmt.Errorf("%s changed while importing", path)
		}
		return nil
	}
	for _, p := range snap.Packages {
		if err := check(p.Artifact); err != nil {
			return err
		}
	}
	for _, d := range snap.Sources {
		if err := check(d.Artifact); err != nil {
			return err
		}
	}
	for _, f := range snap.SourceFiles {
		if err := check(f.Artifact); err != nil {
			return err
		}
	}
	return nil
}
