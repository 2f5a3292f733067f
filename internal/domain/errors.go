package domain

import "errors"

// Source adapter failure classes. Adapters wrap these with %w.
var (
	// ErrNetwork is a transport failure: no response, timeout, 5xx or rate limiting.
	ErrNetwork = errors.New("network error")

	// ErrChain is a response that was received but is semantically invalid,
	// e.g. an RPC error object or a malformed balance.
	ErrChain = errors.New("chain error")
)

// ErrorKind is the per-source error class recorded in the snapshot.
type ErrorKind string

const (
	ErrorKindNetwork ErrorKind = "NetworkError"
	ErrorKindChain   ErrorKind = "ChainError"
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	return string(k)
}

// KindOf classifies an adapter error. Anything not marked as a chain error,
// including context cancellation and deadlines, counts as a network error.
func KindOf(err error) ErrorKind {
	if errors.Is(err, ErrChain) {
		return ErrorKindChain
	}
	return ErrorKindNetwork
}
