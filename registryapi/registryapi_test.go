package registryapi_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"github.com/dockreef/registry/gc"
	"github.com/dockreef/registry/manifestindex"
	"github.com/dockreef/registry/registryapi"
	"github.com/dockreef/registry/session"
	"github.com/dockreef/registry/store"
	"github.com/dockreef/registry/upload"
)

type harness struct {
	*httptest.Server
	store *store.MemStore
	index *manifestindex.MemIndex
	sess  *session.Tracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.NewMem()
	x := manifestindex.NewMem()
	tr := session.New()
	up := upload.New(s, tr)
	collector := gc.New(s, x, tr)
	srv := registryapi.New(s, x, tr, up, collector, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &harness{Server: ts, store: s, index: x, sess: tr}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// pushBlob drives one full initiate -> patch -> finalize session for
// content, returning the finalized digest.
func pushBlob(t *testing.T, h *harness, content []byte) string {
	t.Helper()
	resp, err := http.Post(h.URL+"/v2/some/repo/blobs/uploads/", "application/octet-stream", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sid := resp.Header.Get("Docker-Upload-UUID")
	resp.Body.Close()

	patchReq, err := http.NewRequest("PATCH", h.URL+"/v2/uploads/"+sid+"/0", strings.NewReader(string(content)))
	require.NoError(t, err)
	resp, err = h.Client().Do(patchReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	dig := sha256Hex(content)
	finalizeReq, err := http.NewRequest("PUT", h.URL+"/v2/uploads/"+sid+"/1?digest="+dig, nil)
	require.NoError(t, err)
	resp, err = h.Client().Do(finalizeReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	return dig
}

func manifestReferencing(digs ...string) []byte {
	type layer struct {
		Digest string `json:"digest"`
	}
	doc := struct {
		SchemaVersion int     `json:"schemaVersion"`
		Layers        []layer `json:"layers"`
	}{SchemaVersion: 2}
	for _, d := range digs {
		doc.Layers = append(doc.Layers, layer{Digest: d})
	}
	data, _ := json.Marshal(doc)
	return data
}

func putManifest(t *testing.T, h *harness, repo, tag string, data []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest("PUT", h.URL+"/v2/"+repo+"/manifests/"+tag, strings.NewReader(string(data)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/vnd.oci.image.manifest.v1+json")
	resp, err := h.Client().Do(req)
	require.NoError(t, err)
	return resp
}

// Scenario 1: push then GC preserves layers.
func TestPushThenGCPreservesLayers(t *testing.T) {
	h := newHarness(t)
	var digs []string
	for _, body := range []string{"L1", "L2", "L3", "L4", "L5"} {
		digs = append(digs, pushBlob(t, h, []byte(body)))
	}
	resp := putManifest(t, h, "dockage/mailcatcher", "latest", manifestReferencing(digs...))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	collector := gc.New(h.store, h.index, h.sess)
	result, err := collector.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.BlobsRemoved)
	require.Equal(t, 0, result.ManifestsRemoved)

	getResp, err := http.Get(h.URL + "/v2/dockage/mailcatcher/manifests/latest")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
}

// Scenario 2: mixed GC removes only unreferenced blobs.
func TestMixedGC(t *testing.T) {
	h := newHarness(t)
	r1 := pushBlob(t, h, []byte("R1-content"))
	r2 := pushBlob(t, h, []byte("R2-content"))
	pushBlob(t, h, []byte("U1-content"))
	pushBlob(t, h, []byte("U2-content"))

	resp := putManifest(t, h, "test/repo", "latest", manifestReferencing(r1, r2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	collector := gc.New(h.store, h.index, h.sess)
	result, err := collector.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.BlobsRemoved)
	require.Equal(t, 0, result.ManifestsRemoved)

	has1, err := h.store.Has(context.Background(), digest.Digest(r1))
	require.NoError(t, err)
	require.True(t, has1)
	has2, err := h.store.Has(context.Background(), digest.Digest(r2))
	require.NoError(t, err)
	require.True(t, has2)
}

// Scenario 3: ghost repository prevention.
func TestGhostRepositoryPrevention(t *testing.T) {
	h := newHarness(t)
	resp := putManifest(t, h, "multi/repo", "tag1", manifestReferencing())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = putManifest(t, h, "multi/repo", "tag2", manifestReferencing())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	require.Contains(t, catalog(t, h), "multi/repo")

	del, err := http.NewRequest("DELETE", h.URL+"/v2/multi/repo/manifests/tag1", nil)
	require.NoError(t, err)
	resp, err = h.Client().Do(del)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	require.Contains(t, catalog(t, h), "multi/repo")

	del, err = http.NewRequest("DELETE", h.URL+"/v2/multi/repo/manifests/tag2", nil)
	require.NoError(t, err)
	resp, err = h.Client().Do(del)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	require.NotContains(t, catalog(t, h), "multi/repo")
}

func catalog(t *testing.T, h *harness) []string {
	t.Helper()
	resp, err := http.Get(h.URL + "/v2/_catalog")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Repositories []string `json:"repositories"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Repositories
}

// Scenario 4: concurrent manifest PUTs to the same (name, tag) leave
// exactly one manifest, and every response succeeds.
func TestConcurrentManifestPUTs(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := manifestReferencing(fmt.Sprintf("sha256:%064d", i))
			resp := putManifest(t, h, "postgres", "15", data)
			require.Equal(t, http.StatusCreated, resp.StatusCode)
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	resp, err := http.Get(h.URL + "/v2/postgres/manifests/15")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tags, err := h.index.ListTags(context.Background(), "postgres")
	require.NoError(t, err)
	require.Equal(t, []string{"15"}, tags)
}

// Scenario 5: digest mismatch at finalize is rejected and the chunk row survives.
func TestDigestMismatchRejected(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Post(h.URL+"/v2/repo/blobs/uploads/", "application/octet-stream", nil)
	require.NoError(t, err)
	sid := resp.Header.Get("Docker-Upload-UUID")
	resp.Body.Close()

	patchReq, err := http.NewRequest("PATCH", h.URL+"/v2/uploads/"+sid+"/0", strings.NewReader("hello"))
	require.NoError(t, err)
	resp, err = h.Client().Do(patchReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	bogus := "sha256:" + strings.Repeat("de", 32)
	finalizeReq, err := http.NewRequest("PUT", h.URL+"/v2/uploads/"+sid+"/1?digest="+bogus, nil)
	require.NoError(t, err)
	resp, err = h.Client().Do(finalizeReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	n, err := h.store.CountChunksForSession(context.Background(), sid)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// Scenario 6: splitting a payload into chunks stitches back byte-for-byte.
func TestMultiPartStitch(t *testing.T) {
	h := newHarness(t)
	payload := strings.Repeat("x", 66) + strings.Repeat("y", 66) + strings.Repeat("z", 68)
	require.Len(t, payload, 200)
	chunks := []string{payload[:66], payload[66:132], payload[132:200]}

	resp, err := http.Post(h.URL+"/v2/repo/blobs/uploads/", "application/octet-stream", nil)
	require.NoError(t, err)
	sid := resp.Header.Get("Docker-Upload-UUID")
	resp.Body.Close()

	for i, c := range chunks {
		req, err := http.NewRequest("PATCH", fmt.Sprintf("%s/v2/uploads/%s/%d", h.URL, sid, i), strings.NewReader(c))
		require.NoError(t, err)
		resp, err = h.Client().Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	}

	dig := sha256Hex([]byte(payload))
	finalizeReq, err := http.NewRequest("PUT", fmt.Sprintf("%s/v2/uploads/%s/%d?digest=%s", h.URL, sid, len(chunks), dig), nil)
	require.NoError(t, err)
	resp, err = h.Client().Do(finalizeReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	has, err := h.store.Has(context.Background(), digest.Digest(dig))
	require.NoError(t, err)
	require.True(t, has)
	n, err := h.store.CountChunksForSession(context.Background(), sid)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	getResp, err := http.Get(h.URL + "/v2/repo/blobs/" + dig)
	require.NoError(t, err)
	defer getResp.Body.Close()
	gotBody, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	require.Equal(t, payload, string(gotBody))
}

// Idempotence: repeated DELETE repository and repeated short-circuit
// initiate both behave idempotently.
func TestRepeatedRepositoryDeleteIsIdempotent(t *testing.T) {
	h := newHarness(t)
	resp := putManifest(t, h, "idem/repo", "v1", manifestReferencing())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	del, err := http.NewRequest("DELETE", h.URL+"/v2/idem/repo", nil)
	require.NoError(t, err)
	resp, err = h.Client().Do(del)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body struct {
		ManifestsDeleted int `json:"manifestsDeleted"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Equal(t, 1, body.ManifestsDeleted)

	del, err = http.NewRequest("DELETE", h.URL+"/v2/idem/repo", nil)
	require.NoError(t, err)
	resp, err = h.Client().Do(del)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestShortCircuitInitiateIsRepeatable(t *testing.T) {
	h := newHarness(t)
	dig := pushBlob(t, h, []byte("already-there"))

	for i := 0; i < 3; i++ {
		resp, err := http.Post(h.URL+"/v2/repo/blobs/uploads/?digest="+dig, "application/octet-stream", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}
}
