// Package digestutil provides digest parsing and the manifest digest-field
// scan used by the manifest index and the garbage collector.
package digestutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/opencontainers/go-digest"
)

// Prefix is the only digest algorithm the registry engine accepts.
const Prefix = "sha256:"

// Parse validates that s has the form "sha256:<64 hex chars>" and returns
// it as a digest.Digest. It does not accept any other algorithm: the data
// model (§3) only ever stores sha256 digests.
func Parse(s string) (digest.Digest, error) {
	d := digest.Digest(s)
	if d.Algorithm() != digest.SHA256 {
		return "", fmt.Errorf("unsupported digest algorithm in %q", s)
	}
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", s, err)
	}
	return d, nil
}

// FromBytes returns the canonical sha256 digest of data.
func FromBytes(data []byte) digest.Digest {
	sum := sha256.Sum256(data)
	return digest.Digest("sha256:" + hex.EncodeToString(sum[:]))
}

// digestField matches a JSON `"digest": "..."` field anywhere in a byte
// stream, tolerant of whitespace and of schema variation across manifest
// versions. A full JSON parse is deliberately not used here: manifests are
// scanned on every PUT and once per manifest during GC, and the contract is
// the regex, not a schema (§4.8).
var digestField = regexp.MustCompile(`"digest"\s*:\s*"([^"]+)"`)

// ReferencedDigests scans manifest bytes for every "digest" field and
// returns the distinct sha256 digests found. Non-sha256 values (and
// malformed ones) are silently skipped, matching the spec's "accept only
// values beginning with sha256:" rule.
func ReferencedDigests(manifest []byte) []digest.Digest {
	matches := digestField.FindAllSubmatch(manifest, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[digest.Digest]bool, len(matches))
	var out []digest.Digest
	for _, m := range matches {
		s := string(m[1])
		if len(s) <= len(Prefix) || s[:len(Prefix)] != Prefix {
			continue
		}
		d := digest.Digest(s)
		if d.Validate() != nil {
			continue
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
