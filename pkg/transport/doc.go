// Package transport defines the request-executor capability the engine
// consumes, plus a default HTTP implementation.
//
// The engine core does not own a wire format. It requires exactly two
// primitives:
//
//   - Do: one request, one response, used by the command dispatcher
//   - OpenStream: a long-lived server-push connection delivering discrete
//     frames, used by the stream transport; reconnect requests carry the
//     session identity and the last delivered sequence marker
//
// HTTPExecutor implements both over net/http. Streams are Server-Sent
// Events: each SSE data block is one frame, returned as raw bytes for the
// event package to decode. Non-2xx responses surface as *StatusError so the
// stream loop can classify the fault as retryable (5xx) or terminal (auth
// rejection, session not found).
package transport
