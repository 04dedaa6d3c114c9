// Package deb maps Debian package and source metadata to and from control paragraphs.
//
// # Design Philosophy
//
// The codec is pure: records are plain structs and paragraphs are ordered
// key/value lists rendered to any io.Writer. Field order is fixed per record
// type by a single field table, which drives both encoding and decoding so
// that decode(encode(r)) == r holds for every field of the table.
//
// # Features
//
// Paragraphs:
//   - Parse and render RFC822-like control paragraphs, including multi-line fields.
//   - Unset fields are omitted, never written empty.
//
// Records:
//   - Binary packages (.deb, .udeb) with their Packages index form.
//   - Source packages (.dsc) with their Sources index form and checksum lists.
//   - Pool path layout: pool/<component>/<prefix>/<source>/<file>.
//
// Digests:
//   - md5, sha1, sha256 and sha512, computed in a single pass over a stream.
//   - Reading the control file and digests of a .deb archive.
package deb
