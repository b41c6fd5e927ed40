package digestutil

import (
	"testing"

	"github.com/go-quicktest/qt"
)

func TestParse(t *testing.T) {
	d, err := Parse("sha256:" + fortyTwoHex)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(d.String(), "sha256:"+fortyTwoHex))
}

func TestParseRejectsOtherAlgorithms(t *testing.T) {
	_, err := Parse("sha512:" + fortyTwoHex)
	qt.Assert(t, qt.IsNotNil(err))
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("sha256:not-hex")
	qt.Assert(t, qt.IsNotNil(err))
}

func TestFromBytes(t *testing.T) {
	d := FromBytes([]byte("hello"))
	qt.Assert(t, qt.Equals(d.String(), "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"))
}

func TestReferencedDigests(t *testing.T) {
	manifest := []byte(`{
		"config": {"digest": "sha256:` + fortyTwoHex + `"},
		"layers": [
			{"digest": "sha256:` + fortyTwoHex + `"},
			{"digest": "sha512:ignoreme"},
			{"digest": "not-a-digest-at-all"}
		]
	}`)
	ds := ReferencedDigests(manifest)
	qt.Assert(t, qt.HasLen(ds, 1))
	qt.Assert(t, qt.Equals(ds[0].String(), "sha256:"+fortyTwoHex))
}

func TestReferencedDigestsNone(t *testing.T) {
	ds := ReferencedDigests([]byte(`{"mediaType": "application/vnd.oci.image.manifest.v1+json"}`))
	qt.Assert(t, qt.HasLen(ds, 0))
}

const fortyTwoHex = "0000000000000000000000000000000000000000000000000000000000000042"[:64]
