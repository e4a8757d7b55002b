package openhab

import "errors"

// URL validation errors returned by ValidateURL.
var (
	ErrEmptyInput     = errors.New("openhab: server url is empty")
	ErrNotAURL        = errors.New("openhab: not an absolute http(s) url")
	ErrReservedSuffix = errors.New("openhab: url must not contain the /rest api path")
)

// Reachability errors returned by Prober.CheckReachable. Callers treat both
// as "server not found"; ErrTimeout only narrows the cause for logging.
var (
	ErrUnreachable = errors.New("openhab: server unreachable")
	ErrTimeout     = errors.New("openhab: server probe timed out")
)

// ErrInvalidCredentials is returned by Prober.CheckCredentials for any failure
// to open an authenticated session, including network failures.
var ErrInvalidCredentials = errors.New("openhab: credentials rejected")

// Transport errors returned by Client.
var (
	// ErrRequestFailed wraps every failed call to the remote REST API.
	ErrRequestFailed = errors.New("openhab: request failed")

	// ErrUnauthorized is joined with ErrRequestFailed when the server answers
	// 401 or 403.
	ErrUnauthorized = errors.New("openhab: unauthorized")

	// ErrMalformedResponse is joined with ErrRequestFailed when a response
	// body does not match the expected shape.
	ErrMalformedResponse = errors.New("openhab: malformed response")
)
