package apt

import "github.com/etnz/apt-publish/deb"

// ArtifactKind distinguishes the files of a publication.
type ArtifactKind string

const (
	// KindPool is a package or source file placed in the pool and fetched from the content store.
	KindPool ArtifactKind = "pool"
	// KindMetadata is an index, Release or signature file generated by the publish.
	KindMetadata ArtifactKind = "metadata"
)

// PublishedArtifact is one file of a publication.
type PublishedArtifact struct {
	// RelativePath is the path below the repository root.
	RelativePath string       `json:"relative_path"`
	Kind         ArtifactKind `json:"kind"`
	// Content identifies the file behind a pool artifact: its SHA256 addresses the content store.
	Content deb.Artifact `json:"content"`
}

// FileReport describes one metadata file written by a component.
type FileReport struct {
	// Path is relative to the release directory, dists/<distribution>.
	Path    string
	Size    int64
	Digests deb.Digests
}

// ComponentReport is the immutable outcome of a ComponentIndex.
type ComponentReport struct {
	Component string
	// Files lists the Packages files in architecture order, then Sources; each plain file precedes its .gz.
	Files     []FileReport
	Artifacts []PublishedArtifact
}
