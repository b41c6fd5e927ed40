package registryapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/opencontainers/go-digest"

	reg "github.com/dockreef/registry"
	"github.com/dockreef/registry/digestutil"
	"github.com/dockreef/registry/internal/ocirequest"
)

// handleBlobStartUpload implements Initiate (§4.4): POST
// /v2/<name>/blobs/uploads/[?digest=]. The repository name in the URL
// is accepted for Distribution-API compatibility but otherwise unused:
// the Blob Store is a single global digest-addressed namespace (§3).
func (s *Server) handleBlobStartUpload(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	var dig digest.Digest
	if rreq.Digest != "" {
		d, err := digestutil.Parse(rreq.Digest)
		if err != nil {
			return reg.ErrDigestInvalid
		}
		dig = d
	}
	result, err := s.Upload.Initiate(ctx, dig)
	if err != nil {
		return err
	}
	if result.ShortCircuited {
		resp.Header().Set("Docker-Content-Digest", rreq.Digest)
		resp.Header().Set("Location", s.locationForBlob(rreq.Repo, rreq.Digest))
		resp.WriteHeader(http.StatusCreated)
		return nil
	}
	resp.Header().Set("Docker-Upload-UUID", result.SessionID)
	resp.Header().Set("Location", s.locationForUpload(result.SessionID, 0))
	resp.WriteHeader(http.StatusAccepted)
	return nil
}

// handleBlobUploadChunk implements Append (§4.4): PATCH
// /v2/uploads/<sid>/<k>.
func (s *Server) handleBlobUploadChunk(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	result, err := s.Upload.Append(ctx, rreq.UploadID, rreq.ChunkIndex, req.Body)
	if err != nil {
		return err
	}
	resp.Header().Set("Docker-Upload-UUID", rreq.UploadID)
	resp.Header().Set("Location", s.locationForUpload(rreq.UploadID, result.NextIndex))
	resp.Header().Set("Range", fmt.Sprintf("0-%d", result.TotalBytes))
	resp.WriteHeader(http.StatusAccepted)
	return nil
}

// handleBlobCompleteUpload implements Finalize (§4.4): PUT
// /v2/uploads/<sid>/<k>?digest=<digest>.
func (s *Server) handleBlobCompleteUpload(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	dig, err := digestutil.Parse(rreq.Digest)
	if err != nil {
		return reg.ErrDigestInvalid
	}
	result, err := s.Upload.Finalize(ctx, rreq.UploadID, dig)
	if err != nil {
		return err
	}
	resp.Header().Set("Docker-Content-Digest", result.Digest.String())
	// Finalize has no repository in scope (sessions aren't repo-scoped;
	// §4.3), so the Location points at the content-addressed blob
	// directly rather than guessing a repository name.
	resp.Header().Set("Location", s.locationForBlob("blob", result.Digest.String()))
	resp.WriteHeader(http.StatusCreated)
	return nil
}

func (s *Server) handleBlobHead(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	dig, err := digestutil.Parse(rreq.Digest)
	if err != nil {
		return reg.ErrDigestInvalid
	}
	has, err := s.Store.Has(ctx, dig)
	if err != nil {
		return err
	}
	if !has {
		return reg.ErrBlobUnknown
	}
	_, size, err := s.Store.Get(ctx, dig)
	if err != nil {
		return err
	}
	resp.Header().Set("Docker-Content-Digest", rreq.Digest)
	resp.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	resp.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) handleBlobGet(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	dig, err := digestutil.Parse(rreq.Digest)
	if err != nil {
		return reg.ErrDigestInvalid
	}
	r, size, err := s.Store.Get(ctx, dig)
	if err != nil {
		return err
	}
	defer r.Close()
	resp.Header().Set("Docker-Content-Digest", rreq.Digest)
	resp.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	resp.Header().Set("Content-Type", "application/octet-stream")
	resp.WriteHeader(http.StatusOK)
	io.Copy(resp, r)
	return nil
}

func (s *Server) handleBlobDelete(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	dig, err := digestutil.Parse(rreq.Digest)
	if err != nil {
		return reg.ErrDigestInvalid
	}
	has, err := s.Store.Has(ctx, dig)
	if err != nil {
		return err
	}
	if !has {
		return reg.ErrBlobUnknown
	}
	if err := s.Store.Delete(ctx, dig); err != nil {
		return err
	}
	resp.WriteHeader(http.StatusAccepted)
	return nil
}
