// ABOUTME: Typed event records with payload variants, categories, and classification.
// ABOUTME: One Record per server frame or locally generated engine notice.

package event

import "time"

// Category groups records for independent subscription.
type Category string

const (
	CategoryMessage Category = "message"
	CategorySystem  Category = "system"
	CategoryStatus  Category = "status"
)

// Type identifies the payload variant carried by a Record.
type Type string

const (
	// Server-originated message payloads.
	TypeTextChunk     Type = "text_chunk"
	TypeInquiry       Type = "inquiry"
	TypeChoices       Type = "choices"
	TypeTranscription Type = "transcription"

	// Server-originated session lifecycle payloads.
	TypeSessionStarted Type = "session_started"
	TypeSessionEnded   Type = "session_ended"

	// Server-originated status payloads.
	TypeTyping   Type = "typing"
	TypeAck      Type = "ack"
	TypePresence Type = "presence"
	TypeError    Type = "error"

	// Locally generated notices from the engine itself.
	TypeConnection    Type = "connection"
	TypeOverflow      Type = "overflow"
	TypeDecodeFailure Type = "decode_failure"
	TypeStreamFailure Type = "stream_failure"
)

// ConnState is the connection lifecycle phase reported on the status channel.
type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnExhausted    ConnState = "exhausted"
)

// Record is one event delivered to subscribers. Exactly one payload field
// is non-nil, selected by Type. Producers may stamp Seq and SessionID on a
// record they own before handing it off; once published it is immutable.
type Record struct {
	Type      Type
	SessionID string
	Seq       int64
	Timestamp time.Time

	Text          *TextChunk
	Inquiry       *Inquiry
	Choices       *ChoiceSet
	Transcription *TranscriptionChunk
	Session       *SessionLifecycle
	Typing        *TypingIndicator
	Ack           *Acknowledgment
	Presence      *Presence
	Error         *ErrorNotice
	Connection    *ConnectionStatus
	Overflow      *OverflowNotice
}

// TextChunk is an incremental piece of an assistant reply.
type TextChunk struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Final     bool   `json:"final"`
}

// Inquiry asks the user a free-form question.
type Inquiry struct {
	MessageID string `json:"message_id"`
	Prompt    string `json:"prompt"`
}

// ChoiceSet asks the user to pick from fixed options.
type ChoiceSet struct {
	MessageID string   `json:"message_id"`
	Prompt    string   `json:"prompt"`
	Options   []string `json:"options"`
}

// TranscriptionChunk is a piece of speech-to-text output relayed from the
// media provider or the backend.
type TranscriptionChunk struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// SessionLifecycle reports a server-acknowledged session transition.
type SessionLifecycle struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// TypingIndicator reports that the agent started or stopped composing.
type TypingIndicator struct {
	Active bool `json:"active"`
}

// Acknowledgment confirms receipt of an outbound command.
type Acknowledgment struct {
	MessageID string `json:"message_id"`
}

// Presence reports a participant joining or leaving the conversation.
type Presence struct {
	Participant string `json:"participant"`
	Online      bool   `json:"online"`
}

// ErrorNotice is a non-fatal server-reported error.
type ErrorNotice struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ConnectionStatus is a locally generated connection lifecycle notice. For
// ConnExhausted and stream failures, Terminal is true and Err carries the
// final fault description.
type ConnectionStatus struct {
	State    ConnState
	Attempt  int
	Terminal bool
	Err      string
}

// OverflowNotice reports that a slow subscriber's buffer overflowed and
// Dropped records were discarded (oldest first).
type OverflowNotice struct {
	Category Category
	Dropped  int
}

// Categorize returns the category for a payload variant. It is the pure
// classification function used by the multiplexer; Record.Category calls it.
func Categorize(t Type) Category {
	switch t {
	case TypeTextChunk, TypeInquiry, TypeChoices, TypeTranscription:
		return CategoryMessage
	case TypeSessionStarted, TypeSessionEnded:
		return CategorySystem
	default:
		// Typing, acks, presence, server errors, and every locally
		// generated notice ride the status channel.
		return CategoryStatus
	}
}

// Category returns the record's classification.
func (r *Record) Category() Category {
	return Categorize(r.Type)
}

// NewConnectionStatus builds a locally generated connection lifecycle record.
func NewConnectionStatus(sessionID string, state ConnState, attempt int) *Record {
	return &Record{
		Type:       TypeConnection,
		SessionID:  sessionID,
		Timestamp:  time.Now(),
		Connection: &ConnectionStatus{State: state, Attempt: attempt},
	}
}

// NewStreamFailure builds the terminal record emitted exactly once when the
// stream ends for good (retry budget exhausted or a terminal fault).
func NewStreamFailure(sessionID string, err error) *Record {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Record{
		Type:       TypeStreamFailure,
		SessionID:  sessionID,
		Timestamp:  time.Now(),
		Connection: &ConnectionStatus{State: ConnExhausted, Terminal: true, Err: msg},
	}
}

// NewDecodeFailure builds the notice emitted when a malformed frame is
// dropped without tearing down the connection.
func NewDecodeFailure(sessionID string, err error) *Record {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Record{
		Type:      TypeDecodeFailure,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Error:     &ErrorNotice{Message: msg},
	}
}

// NewOverflowNotice builds the record delivered to a subscriber in place of
// the events dropped from its buffer.
func NewOverflowNotice(cat Category, dropped int) *Record {
	return &Record{
		Type:      TypeOverflow,
		Timestamp: time.Now(),
		Overflow:  &OverflowNotice{Category: cat, Dropped: dropped},
	}
}
