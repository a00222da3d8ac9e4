// Package voice relays events from an external real-time media provider
// onto the engine's event channels.
//
// The engine performs no audio processing. The provider handles capture,
// codecs, and speech-to-text on its side of a websocket; it pushes frames
// in the same JSON format as the main event stream, and the relay decodes
// and republishes them verbatim: transcription chunks surface on the
// message channel, speaking and presence indicators on the status channel.
//
// Start, Stop, and Mute are opaque control calls forwarded to the provider.
// Relay records carry no sequence token, so they never advance the
// session's resume marker.
package voice
