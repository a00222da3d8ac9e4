// ABOUTME: Package doc for the caller-facing engine facade.

// Package client assembles the session engine: state machine, stream
// transport, command dispatcher, and event multiplexer behind one Engine.
//
// An Engine holds at most one session at a time. StartSession begins a fresh
// conversation; ResumeSession reattaches to a prior one and replays only the
// records past the last delivered sequence marker. Subscribers receive events
// by category (message, system, status) or combined; outbound commands fail
// fast with typed errors when no session is active.
package client
