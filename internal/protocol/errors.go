package protocol

import "errors"

var (
	ErrMalformedHeader   = errors.New("protocol: malformed header")
	ErrMalformedParent   = errors.New("protocol: malformed parent header")
	ErrMalformedMetadata = errors.New("protocol: malformed metadata")
	ErrMalformedContent  = errors.New("protocol: malformed content")
	ErrInvalidSignature  = errors.New("protocol: invalid signature")
	ErrMissingType       = errors.New("protocol: message has no type")
	ErrDuplicateType     = errors.New("protocol: message type already registered")
	ErrContentMismatch   = errors.New("protocol: content shape mismatch")
)
