package entities

import "github.com/pkg/errors"

// dispatch
var ErrUnknownTask = errors.New("unknown task")

// network
var (
	ErrTimeout          = errors.New("fetch deadline exceeded")
	ErrTransport        = errors.New("transport failure")
	ErrUnexpectedStatus = errors.New("unexpected http status")
)

// parsing
var ErrMalformed = errors.New("malformed value")

// signing and submission
var (
	ErrNoLocalIdentity    = errors.New("no local identity available for signing")
	ErrSubmissionRejected = errors.New("submission rejected")
)

// admission validation
var (
	ErrBadSignature    = errors.New("bad signature")
	ErrUnsupportedCall = errors.New("unsupported call")
	ErrDuplicateTag    = errors.New("tag already provided")
	ErrPoolFull        = errors.New("transaction pool full")
	ErrStaleNonce      = errors.New("nonce does not match signer account")
	ErrDuplicate       = errors.New("extrinsic already submitted")
)

// durable cache and lock
var (
	ErrAlreadyHeld = errors.New("lock already held")
	ErrCacheMiss   = errors.New("cache entry absent or expired")
)

var ErrNotFound = errors.New("store resource not found")

var ErrBadOrigin = errors.New("bad origin")
