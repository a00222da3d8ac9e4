// ABOUTME: JSON wire-frame decoding for server-push event records.
// ABOUTME: One frame decodes to one Record; unknown variants are rejected.

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownType indicates a frame whose type tag has no payload variant.
var ErrUnknownType = errors.New("unknown event type")

// wireFrame is the envelope the backend pushes for every event.
type wireFrame struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id"`
	Seq       int64           `json:"seq,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode parses one wire frame into a Record. A frame with an unknown type
// tag or an unparsable payload returns an error so the transport can apply
// its malformed-frame policy (drop and notice, tear down on repeats).
func Decode(data []byte) (*Record, error) {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("parsing frame envelope: %w", err)
	}

	rec := &Record{
		Type:      frame.Type,
		SessionID: frame.SessionID,
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	var err error
	switch frame.Type {
	case TypeTextChunk:
		rec.Text, err = decodePayload[TextChunk](frame.Payload)
	case TypeInquiry:
		rec.Inquiry, err = decodePayload[Inquiry](frame.Payload)
	case TypeChoices:
		rec.Choices, err = decodePayload[ChoiceSet](frame.Payload)
	case TypeTranscription:
		rec.Transcription, err = decodePayload[TranscriptionChunk](frame.Payload)
	case TypeSessionStarted, TypeSessionEnded:
		rec.Session, err = decodePayload[SessionLifecycle](frame.Payload)
	case TypeTyping:
		rec.Typing, err = decodePayload[TypingIndicator](frame.Payload)
	case TypeAck:
		rec.Ack, err = decodePayload[Acknowledgment](frame.Payload)
	case TypePresence:
		rec.Presence, err = decodePayload[Presence](frame.Payload)
	case TypeError:
		rec.Error, err = decodePayload[ErrorNotice](frame.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s payload: %w", frame.Type, err)
	}

	return rec, nil
}

func decodePayload[T any](raw json.RawMessage) (*T, error) {
	var v T
	if len(raw) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
