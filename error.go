package ociregistry

import "errors"

// TODO how to cope with redirects, if at all?

// NewError returns a new error with the given message, code and detail.
func NewError(msg string, code string, detail any) Error {
	return &registryError{
		code:    code,
		message: msg,
		detail:  detail,
	}
}

// Error represents an OCI registry error. The set of codes is defined
// in the [distribution specification].
//
// [distribution specification]: https://github.com/opencontainers/distribution-spec/blob/main/spec.md#error-codes
type Error interface {
	// error.Error provides the error message.
	error

	// Code returns the error code. See
	Code() string

	// Detail returns any detail to be associated with the error; it should
	// be JSON-marshable.
	Detail() any
}

// The following values represent the known error codes.
var (
	ErrBlobUnknown         = NewError("blob unknown to registry", "BLOB_UNKNOWN", nil)
	ErrBlobUploadInvalid   = NewError("blob upload invalid", "BLOB_UPLOAD_INVALID", nil)
	ErrBlobUploadUnknown   = NewError("blob upload unknown to registry", "BLOB_UPLOAD_UNKNOWN", nil)
	ErrDigestInvalid       = NewError("provided digest did not match uploaded content", "DIGEST_INVALID", nil)
	ErrManifestBlobUnknown = NewError("manifest references a manifest or blob unknown to registry", "MANIFEST_BLOB_UNKNOWN", nil)
	ErrManifestInvalid     = NewError("manifest invalid", "MANIFEST_INVALID", nil)
	ErrManifestUnknown     = NewError("manifest unknown to registry", "MANIFEST_UNKNOWN", nil)
	ErrNameInvalid         = NewError("invalid repository name", "NAME_INVALID", nil)
	ErrNameUnknown         = NewError("repository name not known to registry", "NAME_UNKNOWN", nil)
	ErrSizeInvalid         = NewError("provided length did not match content length", "SIZE_INVALID", nil)
	ErrUnauthorized        = NewError("authentication required", "UNAUTHORIZED", nil)
	ErrDenied              = NewError("requested access to the resource is denied", "DENIED", nil)
	ErrUnsupported         = NewError("the operation is unsupported", "UNSUPPORTED", nil)
	ErrTooManyRequests     = NewError("too many requests", "TOOMANYREQUESTS", nil)

	// ErrChunkGap signals that a session's chunk rows do not form a dense
	// 0..n-1 prefix at finalize time (§4.1, §7).
	ErrChunkGap = NewError("upload chunks are not contiguous", "BLOB_UPLOAD_INVALID", nil)
	// ErrDuplicateDigest signals that a finalized blob already exists for
	// the digest being committed. Callers treat this as success for the
	// losing finalizer (§4.4, §7).
	ErrDuplicateDigest = NewError("digest already finalized", "BLOB_UPLOAD_INVALID", nil)
	// ErrBadMediaType signals an unsupported manifest Content-Type (§4.5, §7).
	ErrBadMediaType = NewError("unsupported manifest media type", "MANIFEST_INVALID", nil)
	// ErrCorruption signals that the storage engine itself reported
	// corruption; the caller gets one recovery attempt (§9) before
	// surfacing 503 and refusing further writes.
	ErrCorruption = NewError("storage corruption detected", "UNAVAILABLE", nil)
)

type registryError struct {
	code    string
	message string
	detail  any
}

func (e *registryError) Code() string {
	return e.code
}

func (e *registryError) Error() string {
	return e.message
}

func (e *registryError) Detail() any {
	return e.detail
}

// HTTPStatus maps a known registry error to the status code it should
// produce on the wire (§7). Errors not recognized here are treated as
// Internal (500) by the caller.
func HTTPStatus(err error) (int, bool) {
	var e Error
	if !errors.As(err, &e) {
		return 0, false
	}
	switch e {
	case ErrBlobUnknown, ErrManifestUnknown, ErrNameUnknown:
		return 404, true
	case ErrDigestInvalid, ErrSizeInvalid, ErrManifestInvalid, ErrNameInvalid,
		ErrBlobUploadInvalid, ErrChunkGap, ErrBadMediaType, ErrManifestBlobUnknown:
		return 400, true
	case ErrUnauthorized:
		return 401, true
	case ErrDenied:
		return 403, true
	case ErrUnsupported:
		return 405, true
	case ErrTooManyRequests:
		return 429, true
	case ErrCorruption:
		return 503, true
	case ErrDuplicateDigest:
		return 201, true
	default:
		return 0, false
	}
}