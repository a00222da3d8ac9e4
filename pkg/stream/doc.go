// Package stream runs the supervised server-push connection loop.
//
// # Connection loop
//
// Open starts one reader task per transport. Each cycle resolves a fresh
// credential, opens the push connection with the session identity and the
// last delivered sequence marker attached, and decodes frames into event
// records published to the multiplexer ingress. The reader is the sole
// writer into the multiplexer, which serializes ordering without extra
// locking.
//
// # Fault handling
//
// Connection faults are classified:
//
//   - retryable: network errors, server-initiated closes, 5xx statuses,
//     repeated decode failures, idle timeouts. Retried with bounded
//     exponential backoff (full jitter, capped delay, capped attempts);
//     invisible to the caller except via status records.
//   - terminal: credential resolution failures, auth rejections, session
//     not found. Never retried; one terminal stream-failure record is
//     emitted and the loop stops.
//
// Exhausting the retry budget is terminal too, surfaced exactly once.
//
// # Resume and deduplication
//
// Every reconnect resumes from the session's last delivered marker. The
// loop additionally deduplicates client-side: a record whose sequence token
// is at or below the marker is dropped, so redelivered history never
// reaches subscribers. Frames without a server token are assigned the next
// token in arrival order.
//
// # Malformed frames
//
// A frame that fails to decode is dropped and reported as a status record;
// the connection survives until consecutive failures cross a threshold, at
// which point the fault is treated as a retryable connection error.
package stream
