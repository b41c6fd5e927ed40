package registryapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	reg "github.com/dockreef/registry"
	"github.com/dockreef/registry/digestutil"
	"github.com/dockreef/registry/internal/ocirequest"
	"github.com/dockreef/registry/manifestindex"
)

// handleManifestPut implements the manifest PUT / Pull "upsert" half
// (§4.5): validate Content-Type, compute the digest over the exact
// request bytes, upsert into the Manifest Index, and emit a diagnostic
// (non-fatal) log for any referenced blob not yet stored.
func (s *Server) handleManifestPut(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	mediaType := req.Header.Get("Content-Type")
	if mediaType == "" || !manifestindex.SupportedMediaTypes[mediaType] {
		return reg.ErrBadMediaType
	}
	data, err := readAllLimited(req.Body)
	if err != nil {
		return err
	}
	dig := digestutil.FromBytes(data)
	ref := rreq.Tag
	if ref == "" {
		ref = rreq.Digest
		if rreq.Digest != "" && dig.String() != rreq.Digest {
			return reg.ErrDigestInvalid
		}
	}

	if err := s.Index.Put(ctx, rreq.Repo, tagForPut(rreq), dig, mediaType, data); err != nil {
		return err
	}
	for _, d := range digestutil.ReferencedDigests(data) {
		has, err := s.Store.Has(ctx, d)
		if err != nil {
			return err
		}
		if !has {
			s.Log.Warn("manifest references blob not yet stored",
				"repo", rreq.Repo, "manifestDigest", dig, "missingDigest", d)
		}
	}

	resp.Header().Set("Docker-Content-Digest", dig.String())
	resp.Header().Set("Location", s.locationForManifest(rreq.Repo, ref))
	resp.WriteHeader(http.StatusCreated)
	return nil
}

// tagForPut derives the tag key to upsert under: a digest-only PUT is
// still stored under a synthetic tag keyed by its own digest, so that
// pulling by digest (Index.Get handles ref being either) and listing
// tags both keep working without a separate "untagged manifests" table.
func tagForPut(rreq *ocirequest.Request) string {
	if rreq.Tag != "" {
		return rreq.Tag
	}
	return rreq.Digest
}

func (s *Server) handleManifestGet(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	ref := rreq.Tag
	if ref == "" {
		ref = rreq.Digest
	}
	m, err := s.Index.Get(ctx, rreq.Repo, ref)
	if err != nil {
		return err
	}
	resp.Header().Set("Docker-Content-Digest", m.Digest.String())
	resp.Header().Set("Content-Type", m.MediaType)
	resp.Header().Set("Content-Length", strconv.Itoa(len(m.Bytes)))
	resp.WriteHeader(http.StatusOK)
	resp.Write(m.Bytes)
	return nil
}

func (s *Server) handleManifestHead(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	ref := rreq.Tag
	if ref == "" {
		ref = rreq.Digest
	}
	m, err := s.Index.Get(ctx, rreq.Repo, ref)
	if err != nil {
		return err
	}
	resp.Header().Set("Docker-Content-Digest", m.Digest.String())
	resp.Header().Set("Content-Type", m.MediaType)
	resp.Header().Set("Content-Length", strconv.Itoa(len(m.Bytes)))
	resp.WriteHeader(http.StatusOK)
	return nil
}

// handleManifestDelete implements atomic "delete if exists" (§4.5): 202
// if it was there, 404 otherwise.
func (s *Server) handleManifestDelete(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	tag := rreq.Tag
	if tag == "" {
		m, err := s.Index.Get(ctx, rreq.Repo, rreq.Digest)
		if err != nil {
			return err
		}
		tag = m.Tag
	}
	existed, err := s.Index.Delete(ctx, rreq.Repo, tag)
	if err != nil {
		return err
	}
	if !existed {
		return reg.ErrManifestUnknown
	}
	resp.WriteHeader(http.StatusAccepted)
	return nil
}

type tagsListResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

func (s *Server) handleTagsList(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	tags, err := s.Index.ListTags(ctx, rreq.Repo)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return reg.ErrNameUnknown
	}
	writeJSON(resp, http.StatusOK, tagsListResponse{Name: rreq.Repo, Tags: tags})
	return nil
}

type catalogResponse struct {
	Repositories []string `json:"repositories"`
}

func (s *Server) handleCatalogList(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	repos, err := s.Index.ListRepositories(ctx)
	if err != nil {
		return err
	}
	writeJSON(resp, http.StatusOK, catalogResponse{Repositories: repos})
	return nil
}

type repositoryDeleteResponse struct {
	ManifestsDeleted int `json:"manifestsDeleted"`
}

// handleRepositoryDelete implements DELETE /v2/<name> (§4.5): delete
// every manifest row under name and trigger a GC pass so the blobs that
// were only referenced by this repository's manifests get reclaimed.
func (s *Server) handleRepositoryDelete(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	n, err := s.Index.DeleteRepository(ctx, rreq.Repo)
	if err != nil {
		return err
	}
	if n == 0 {
		return reg.ErrNameUnknown
	}
	if s.GC != nil {
		go func() {
			if _, err := s.GC.Run(context.Background()); err != nil {
				s.Log.Error("post-delete garbage collection failed", "repo", rreq.Repo, "error", err)
			}
		}()
	}
	writeJSON(resp, http.StatusAccepted, repositoryDeleteResponse{ManifestsDeleted: n})
	return nil
}

func writeJSON(resp http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		resp.WriteHeader(http.StatusInternalServerError)
		return
	}
	resp.Header().Set("Content-Type", "application/json")
	resp.Header().Set("Content-Length", strconv.Itoa(len(data)))
	resp.WriteHeader(status)
	resp.Write(data)
}
