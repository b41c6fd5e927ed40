package registryapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	reg "github.com/dockreef/registry"
)

// maxManifestBytes bounds how much a single manifest PUT will read into
// memory. Manifests are small JSON documents (§4.8); this is generous
// headroom, not a tuned limit.
const maxManifestBytes = 8 << 20

func readAllLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxManifestBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxManifestBytes {
		return nil, reg.NewError("manifest exceeds maximum accepted size", reg.ErrManifestInvalid.Code(), nil)
	}
	return data, nil
}

// wireError mirrors the Distribution API's error envelope: a code,
// a human message, and optional detail (§7).
type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

type wireErrors struct {
	Errors []wireError `json:"errors"`
}

func (s *Server) writeError(resp http.ResponseWriter, err error) {
	we := wireError{Message: err.Error(), Code: "UNKNOWN"}
	var regErr reg.Error
	if errors.As(err, &regErr) {
		we.Code = regErr.Code()
		we.Detail = regErr.Detail()
	}
	status := errStatus(err)
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(status)
	data, merr := json.Marshal(wireErrors{Errors: []wireError{we}})
	if merr != nil {
		s.Log.Error("cannot marshal error response", "error", merr)
		return
	}
	resp.Write(data)
}
