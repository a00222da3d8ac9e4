// Package session owns the conversational session identity and lifecycle.
//
// # States
//
//	Idle -> Starting -> Active -> Ending -> Idle
//	                 -> Resuming (Active variant, prior identity supplied)
//	any  -> Closed (terminal)
//
// Starting a session from Idle enters Starting; the server's acknowledgment
// promotes it to Active (or Resuming when a prior session identity was
// supplied, which permits the same operations as Active). Ending returns to
// Idle with the identity retained so the session can be resumed later.
// Closing is terminal: the identity is discarded and no further operations
// are legal. An unrecoverable stream failure drops any non-closed state back
// to Idle, retaining the identity, and always surfaces the error.
//
// # Concurrency
//
// Exactly one session is active per Machine. Every transition is atomic with
// respect to concurrent command dispatch: readers take a value snapshot
// (Snapshot, DispatchTarget) rather than a live reference, so a command
// issued mid-transition targets the pre- or post-transition identity
// consistently, never a torn mixture.
//
// The Machine also tracks the monotonically increasing outbound message
// counter and the last-known-good event sequence marker used by the stream
// transport to resume after reconnect.
package session
