package knox

import "errors"

// Sentinel errors for directory operations.
var (
	// ErrNetwork indicates a transport failure, timeout or non-2xx status.
	ErrNetwork = errors.New("knox: network error")

	// ErrUpstreamProtocol indicates a non-success result code or a payload
	// that does not have the expected shape.
	ErrUpstreamProtocol = errors.New("knox: upstream protocol error")
)
