package mpc

import "errors"

var (
	// ErrClosed is returned by operations outstanding when the runtime
	// shuts down.
	ErrClosed = errors.New("mpc: runtime closed")

	// ErrVerification means a sharing failed its degree check during
	// triple generation.
	ErrVerification = errors.New("mpc: share verification failed")

	// ErrBroadcast means players observed inconsistent broadcast values.
	ErrBroadcast = errors.New("mpc: broadcast values disagree")
)
