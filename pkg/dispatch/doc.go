// Package dispatch serializes outbound commands against the active session.
//
// # Commands
//
// Send (message or reply), SetAdditionalContext, SendTypingIndicator, and
// UploadAttachments each validate the target session through the state
// machine's dispatch snapshot, then issue exactly one request through the
// transport executor. Commands never read from the event stream: correlated
// responses arrive asynchronously on the message channel and are matched by
// the caller via message identifiers.
//
// # Failure semantics
//
// Dispatch fails fast with a typed error, never an implicit retry, when the
// session is not in an operation-permitting state, when the payload is
// structurally invalid, or when the transport call fails. Command failures
// never affect session state or the event stream.
//
// # Idempotency
//
// Every send carries an idempotency key (caller-supplied or generated). A
// key seen within the dedupe window is reported as a duplicate receipt
// without issuing a second request, so an accidental double-dispatch cannot
// produce two utterances.
//
// # Attachment uploads
//
// UploadAttachments uploads each attachment in one request, streaming
// per-attachment progress fractions (monotonically non-decreasing, reaching
// 1.0 on success) to the caller's sink. The call completes only when every
// attachment has succeeded or failed, and reports exactly the failed subset
// without discarding successes.
package dispatch
