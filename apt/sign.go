package apt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// Signature names returned by signers.
const (
	// SignatureInline is the clearsigned InRelease file.
	SignatureInline = "inline"
	// SignatureDetached is the armored detached signature Release.gpg.
	SignatureDetached = "detached"
)

// Signer signs a finalized Release file. It returns the produced signature
// files by name; each file is published next to the Release file under its base name.
type Signer interface {
	Sign(ctx context.Context, releasePath string) (map[string]string, error)
}

// OpenPGPSigner signs Release files in process with an armored private key.
type OpenPGPSigner struct {
	entity *openpgp.Entity
}

// NewOpenPGPSigner reads the first private key of an ASCII-armored key ring.
// An encrypted key is decrypted with passphrase.
func NewOpenPGPSigner(armoredKey string, passphrase []byte) (*OpenPGPSigner, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, err
	}
	var signer *openpgp.Entity
	for _, e := range entities {
		if e.PrivateKey != nil {
			signer = e
			break
		}
	}
	if signer == nil {
		return nil, fmt.Errorf("no private key found")
	}
	if signer.PrivateKey.Encrypted {
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("private key %s is encrypted and no passphrase was given", signer.PrimaryKey.KeyIdString())
		}
		if err := signer.DecryptPrivateKeys(passphrase); err != nil {
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}
	}
	return &OpenPGPSigner{entity: signer}, nil
}

// Fingerprint returns the hex fingerprint of the signing key.
func (s *OpenPGPSigner) Fingerprint() string {
	return fmt.Sprintf("%X", s.entity.PrimaryKey.Fingerprint)
}

// Sign writes InRelease and Release.gpg next to the Release file.
func (s *OpenPGPSigner) Sign(ctx context.Context, releasePath string) (map[string]string, error) {
	content, err := os.ReadFile(releasePath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Dir(releasePath)

	var inline bytes.Buffer
	w, err := clearsign.Encode(&inline, s.entity.PrivateKey, nil)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var detached bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&detached, s.entity, bytes.NewReader(content), nil); err != nil {
		return nil, err
	}

	res := map[string]string{
		SignatureInline:   filepath.Join(dir, "InRelease"),
		SignatureDetached: filepath.Join(dir, "Release.gpg"),
	}
	for name, body := range map[string][]byte{SignatureInline: inline.Bytes(), SignatureDetached: detached.Bytes()} {
		if err := writeFileAtomic(res[name], func(w io.Writer) error {
			_, err := w.Write(body)
			return err
		}); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// PublicKey returns the public part of the signing key.
// If armored is true, it returns the public key in ASCII-armored format.
// Otherwise, it returns the binary serialized public key.
func (s *OpenPGPSigner) PublicKey(armored bool) ([]byte, error) {
	var buf bytes.Buffer
	if !armored {
		if err := s.entity.Serialize(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := s.entity.Serialize(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ScriptSigner delegates signing to an external program, typically a gpg wrapper.
//
// The program is invoked with the Release path as its only argument and the
// key identifier in the APT_PUBLISH_SIGNING_KEY environment variable. It must
// print a JSON document on stdout:
//
//	{"file": "/path/to/Release", "signatures": {"inline": "/path/to/InRelease", "detached": "/path/to/Release.gpg"}}
type ScriptSigner struct {
	Script string
	KeyID  string
	// Env is added to the environment of the script.
	Env []string
}

type scriptResult struct {
	File       string            `json:"file"`
	Signatures map[string]string `json:"signatures"`
}

var scriptSignatureFiles = map[string]string{
	SignatureInline:   "InRelease",
	SignatureDetached: "Release.gpg",
}

// Sign runs the script and validates its answer.
func (s *ScriptSigner) Sign(ctx context.Context, releasePath string) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, s.Script, releasePath)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env, "APT_PUBLISH_SIGNING_KEY="+s.KeyID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", s.Script, err, strings.TrimSpace(stderr.String()))
	}

	var res scriptResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("%s: invalid output: %w", s.Script, err)
	}
	if res.File != "" && filepath.Clean(res.File) != filepath.Clean(releasePath) {
		return nil, fmt.Errorf("%s: signed %s instead of %s", s.Script, res.File, releasePath)
	}
	if len(res.Signatures) == 0 {
		return nil, fmt.Errorf("%s: no signature returned", s.Script)
	}

	signatures := make(map[string]string, len(res.Signatures))
	for name, p := range res.Signatures {
		want, ok := scriptSignatureFiles[name]
		if !ok {
			return nil, fmt.Errorf("%s: unknown signature %q", s.Script, name)
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(releasePath), p)
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%s: signature %s: %w", s.Script, name, err)
		}
		// the file keeps its conventional name once published
		if filepath.Base(p) != want {
			dst := filepath.Join(filepath.Dir(releasePath), want)
			if err := copyFile(p, dst); err != nil {
				return nil, err
			}
			p = dst
		}
		signatures[name] = p
	}
	return signatures, nil
}
