// Package event defines the typed records flowing out of the streaming
// session engine and the classification applied to them.
//
// # Records
//
// Every frame pushed by the agent backend, and every notice generated
// locally by the engine (connection lifecycle, overflow, decode failures),
// becomes a Record: an immutable value carrying a payload variant tag, the
// originating session identity, and a sequence token used for ordering and
// reconnect deduplication.
//
// Records model a closed tagged union in the style of a payload-pointer
// struct: exactly one payload field is non-nil, selected by Type. Consumers
// switch on Type and read the matching field.
//
// # Categories
//
// Classification is a pure function of the payload variant:
//
//   - message: text chunks, inquiries, choice sets, transcription chunks
//   - system:  session lifecycle (started, ended)
//   - status:  typing, acknowledgments, presence, errors, connection
//     lifecycle, overflow and decode notices
//
// The fanout package uses Category to route records onto independently
// subscribable channels.
//
// # Wire format
//
// Server frames are JSON objects with a type tag, session id, sequence
// token, and a type-specific payload object. Decode parses one frame into
// a Record and rejects unknown variants so the transport can apply its
// malformed-frame policy.
package event
