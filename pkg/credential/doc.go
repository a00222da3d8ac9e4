// Package credential models the authentication artifacts required to open a
// stream connection or issue a command against the agent backend.
//
// # Variants
//
// A Credential is a tagged variant:
//
//   - OAuth: user access token plus org and user identity
//   - OrgJWT: org-scoped JWT without a user identity
//   - Guest: unauthenticated access via a guest endpoint URL
//
// Credentials are immutable snapshots. The engine fetches one per connection
// attempt and never caches it beyond that connection's lifetime.
//
// # Providers
//
// The engine consumes credentials through the Provider interface, called once
// per connection attempt. Static wraps a fixed credential. Gate wraps any
// provider with expiry inspection and an optional refresh hook: token-bearing
// credentials whose JWT exp claim has passed are refreshed before being
// handed to the transport.
//
// Expiry inspection parses the token without signature verification. The
// backend remains the authority on token validity; the local check only
// exists to refresh proactively instead of burning a connection attempt.
package credential
