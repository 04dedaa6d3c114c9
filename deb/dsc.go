package deb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// ParseDsc decodes the content of a .dsc file. A clearsigned file is
// unwrapped first; its signature is not verified.
func ParseDsc(content []byte) (*SourceRecord, error) {
	if bytes.HasPrefix(bytes.TrimSpace(content), []byte("-----BEGIN PGP SIGNED MESSAGE-----")) {
		block, _ := clearsign.Decode(content)
		if block == nil {
			return nil, fmt.Errorf("malformed clearsigned message")
		}
		content = block.Plaintext
	}
	p, err := ParseParagraph(string(content))
	if err != nil {
		return nil, err
	}
	return DecodeSource(p)
}

// ReadDsc reads the .dsc file at path and returns its record, with the size
// and digests of the file.
func ReadDsc(path string) (*SourceRecord, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := ParseDsc(content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	m := NewMultiHasher(nil, AllAlgorithms)
	m.Write(content)
	rec.Artifact = m.Artifact(filepath.Base(path))
	return rec, nil
}
