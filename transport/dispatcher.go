// Package transport carries encoded JSON-RPC envelopes to a server and returns its reply.
//
// Three dispatchers are provided:
//   - HTTPDispatcher:      one POST per call
//   - FramedDispatcher:    many concurrent calls multiplexed over one TCP connection
//   - DiscoveryDispatcher: resolves endpoints through a registry and a balancer,
//     then dispatches over a FramedDispatcher per endpoint
package transport

import "context"

// Dispatcher is the contract the client's request coordinator depends on.
type Dispatcher interface {
	// DispatchRequest sends one encoded request envelope and returns the raw
	// response envelope. Errors are I/O failures; server-reported failures
	// come back inside the response bytes.
	DispatchRequest(ctx context.Context, request []byte) ([]byte, error)

	// Version is the API version negotiated with the server, or "" if unknown.
	Version() string
}
