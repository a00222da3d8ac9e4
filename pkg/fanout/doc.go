// Package fanout turns the single ordered stream of decoded event records
// into independently subscribable outputs.
//
// # Outputs
//
// The Multiplexer maintains three category outputs (message, system, status)
// plus a combined output that interleaves all categories. The combined
// output is a merge of the same ingress, not a fourth source: its
// per-category sub-order always matches each category output.
//
// # Ordering
//
// The stream transport is the sole writer into Publish, so classification
// and delivery are serialized without locking beyond the subscriber
// registry. Within a category, records are delivered in ingress order and
// sequence tokens never regress.
//
// # Backpressure
//
// Every subscriber owns a bounded buffered channel. A slow subscriber never
// blocks delivery to others: when its buffer is full the oldest buffered
// record is dropped and an overflow-notification record is delivered once
// the buffer drains, reporting how many records were discarded.
//
// # Completion
//
// Close completes every open subscriber channel exactly once. Subscriptions
// are also cleaned up when their context is cancelled.
package fanout
