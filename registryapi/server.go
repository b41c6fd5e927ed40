// Package registryapi implements the Registry API Facade: it maps HTTP
// verbs on /v2/* paths to the registry engine's leaf components (§4,
// §6), and a small JSON admin surface under /api/* for observability.
//
// The /v2/* surface is dispatched by hand, the way the teacher's own
// ociserver does it, rather than routed through a generic web
// framework: the session+chunk-index upload grammar
// (/v2/uploads/<sid>/<k>) and digest-as-path-segment blob/manifest
// routes don't map onto a pattern router without fighting it, and a
// hand-written table keeps the same request parsing
// (internal/ocirequest) that both the server and any future client use.
package registryapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	reg "github.com/dockreef/registry"
	"github.com/dockreef/registry/gc"
	"github.com/dockreef/registry/internal/ocirequest"
	"github.com/dockreef/registry/manifestindex"
	"github.com/dockreef/registry/session"
	"github.com/dockreef/registry/store"
	"github.com/dockreef/registry/upload"
)

// Server dispatches /v2/* requests directly against the registry
// engine's leaf components.
type Server struct {
	Store    store.Store
	Index    manifestindex.Index
	Sessions *session.Tracker
	Upload   *upload.Machine
	GC       *gc.Collector
	Log      *slog.Logger

	// BaseURL, if non-empty, is prefixed onto every Location header
	// value instead of a host-relative path. Empty means host-relative,
	// which is what every client in the conformance suite expects.
	BaseURL string
}

// New returns a Server. log may be nil, in which case slog.Default() is used.
func New(s store.Store, x manifestindex.Index, tr *session.Tracker, up *upload.Machine, collector *gc.Collector, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{Store: s, Index: x, Sessions: tr, Upload: up, GC: collector, Log: log}
}

type handlerFunc func(s *Server, ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error

var handlers = map[ocirequest.Kind]handlerFunc{
	ocirequest.ReqPing:               (*Server).handlePing,
	ocirequest.ReqBlobGet:            (*Server).handleBlobGet,
	ocirequest.ReqBlobHead:           (*Server).handleBlobHead,
	ocirequest.ReqBlobDelete:         (*Server).handleBlobDelete,
	ocirequest.ReqBlobStartUpload:    (*Server).handleBlobStartUpload,
	ocirequest.ReqBlobUploadChunk:    (*Server).handleBlobUploadChunk,
	ocirequest.ReqBlobCompleteUpload: (*Server).handleBlobCompleteUpload,
	ocirequest.ReqManifestGet:        (*Server).handleManifestGet,
	ocirequest.ReqManifestHead:       (*Server).handleManifestHead,
	ocirequest.ReqManifestPut:        (*Server).handleManifestPut,
	ocirequest.ReqManifestDelete:     (*Server).handleManifestDelete,
	ocirequest.ReqTagsList:           (*Server).handleTagsList,
	ocirequest.ReqCatalogList:        (*Server).handleCatalogList,
	ocirequest.ReqRepositoryDelete:   (*Server).handleRepositoryDelete,
}

// ServeHTTP implements http.Handler for the /v2/* distribution API
// surface (§6).
func (s *Server) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	resp.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	if err := s.v2(resp, req); err != nil {
		s.writeError(resp, err)
	}
}

func (s *Server) v2(resp http.ResponseWriter, req *http.Request) error {
	rreq, err := ocirequest.Parse(req.Method, req.URL)
	if err != nil {
		return err
	}
	handle, ok := handlers[rreq.Kind]
	if !ok {
		return reg.NewError("request kind not implemented by this facade", reg.ErrUnsupported.Code(), nil)
	}
	return handle(s, req.Context(), resp, req, rreq)
}

func (s *Server) handlePing(ctx context.Context, resp http.ResponseWriter, req *http.Request, rreq *ocirequest.Request) error {
	resp.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) locationForBlob(repo, dig string) string {
	return s.BaseURL + "/v2/" + repo + "/blobs/" + dig
}

func (s *Server) locationForUpload(sid string, next int) string {
	return fmt.Sprintf("%s/v2/uploads/%s/%d", s.BaseURL, sid, next)
}

func (s *Server) locationForManifest(repo, ref string) string {
	return s.BaseURL + "/v2/" + repo + "/manifests/" + ref
}

// errStatus maps any error this package's handlers can return to an
// HTTP status code, falling back to 500 for anything unrecognized (§7
// "Internal" kind).
func errStatus(err error) int {
	var perr *ocirequest.ParseError
	if errors.As(err, &perr) {
		switch perr.Err {
		case ocirequest.ErrNotFound:
			return http.StatusNotFound
		case ocirequest.ErrBadlyFormedDigest, ocirequest.ErrBadRequest:
			return http.StatusBadRequest
		case ocirequest.ErrMethodNotAllowed:
			return http.StatusMethodNotAllowed
		}
	}
	if status, ok := reg.HTTPStatus(err); ok {
		return status
	}
	return http.StatusInternalServerError
}
