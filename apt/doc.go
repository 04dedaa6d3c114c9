// Package apt assembles the dists/ hierarchy of a Debian repository.
//
// A Release collects package and source records into one ComponentIndex per
// component. Each ComponentIndex streams its Packages and Sources indices to
// disk and returns an immutable report of the files it wrote. Finalize folds
// those reports, in component-name order, into the checksum lists of the
// Release file, writes it atomically and has it signed.
//
//	dists/<distribution>/Release
//	dists/<distribution>/InRelease
//	dists/<distribution>/Release.gpg
//	dists/<distribution>/<component>/binary-<arch>/Packages(.gz)
//	dists/<distribution>/<component>/source/Sources(.gz)
package apt
