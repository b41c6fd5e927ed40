// Copyright 2020 Google LLC All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Hash holds the result of running a hash function over some content.
type Hash struct {
	Algorithm string
	Hex       string
}

// String returns the digest-style representation "algorithm:hex".
func (h Hash) String() string {
	return h.Algorithm + ":" + h.Hex
}

// Hasher returns a new hash.Hash for the given algorithm name.
// Only "sha256" is currently supported; the registry engine never
// stores or verifies content under any other algorithm.
func Hasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// SHA256 consumes r fully and returns its SHA-256 hash along with the
// number of bytes read.
func SHA256(r io.Reader) (Hash, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Hash{}, n, err
	}
	return Hash{Algorithm: "sha256", Hex: hex.EncodeToString(h.Sum(nil))}, n, nil
}
