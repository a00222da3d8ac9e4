// ABOUTME: Outbound command dispatcher: send, reply, context, typing, uploads.
// ABOUTME: Validates session state, fails fast, issues exactly one request per command.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forcedotcom/agentforce-service-go/pkg/credential"
	"github.com/forcedotcom/agentforce-service-go/pkg/session"
	"github.com/forcedotcom/agentforce-service-go/pkg/transport"
)

// Command errors
var (
	ErrEmptyMessage  = errors.New("empty message")
	ErrEmptyContext  = errors.New("empty context")
	ErrNoAttachments = errors.New("no attachments")
)

const (
	defaultTimeout   = 30 * time.Second
	dedupeTTL        = 5 * time.Minute
	dedupeMaxEntries = 1024
)

// Dispatcher issues outbound commands against the active session. Commands
// run concurrently with the stream reader and with each other; each takes a
// read-only session snapshot, never a live reference.
type Dispatcher struct {
	exec    transport.Executor
	creds   credential.Provider
	machine *session.Machine
	seen    *seenCache
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a dispatcher. timeout <= 0 selects the default command
// timeout. Pass nil logger for default.
func New(exec transport.Executor, creds credential.Provider, machine *session.Machine, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		exec:    exec,
		creds:   creds,
		machine: machine,
		seen:    newSeenCache(dedupeTTL, dedupeMaxEntries),
		timeout: timeout,
		logger:  logger.With("component", "dispatch"),
	}
}

// SendRequest is one outbound utterance or reply.
type SendRequest struct {
	Text      string
	InReplyTo string // message being answered; empty for a fresh utterance
	// IdempotencyKey suppresses accidental double-dispatch of the same
	// logical send. Generated when empty.
	IdempotencyKey string
}

// Receipt reports the outcome of a send.
type Receipt struct {
	MessageID string
	SessionID string
	Duplicate bool
}

// sendBody is the wire payload for POST /api/messages.
type sendBody struct {
	SessionID      string `json:"session_id"`
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
	InReplyTo      string `json:"in_reply_to,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Send dispatches an utterance or reply. A duplicate idempotency key within
// the dedupe window returns a duplicate receipt without issuing a request.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*Receipt, error) {
	sessionID, err := d.machine.DispatchTarget()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyMessage
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}
	if d.seen.checkAndMark(key) {
		d.logger.Debug("duplicate send suppressed", "idempotency_key", key)
		return &Receipt{SessionID: sessionID, Duplicate: true}, nil
	}

	messageID := uuid.New().String()
	body := sendBody{
		SessionID:      sessionID,
		MessageID:      messageID,
		Text:           req.Text,
		InReplyTo:      req.InReplyTo,
		IdempotencyKey: key,
	}

	if err := d.post(ctx, "/api/messages", body); err != nil {
		// A failed dispatch releases the key so the caller may retry.
		d.seen.forget(key)
		return nil, fmt.Errorf("sending message: %w", err)
	}

	d.machine.RecordOutbound()
	d.logger.Debug("message dispatched",
		"session_id", sessionID,
		"message_id", messageID,
		"reply", req.InReplyTo != "",
	)
	return &Receipt{MessageID: messageID, SessionID: sessionID}, nil
}

// SendMessage dispatches a fresh utterance.
func (d *Dispatcher) SendMessage(ctx context.Context, text string) (*Receipt, error) {
	return d.Send(ctx, SendRequest{Text: text})
}

// SendReply dispatches an answer to a prior inquiry or choice set.
func (d *Dispatcher) SendReply(ctx context.Context, inReplyTo, text string) (*Receipt, error) {
	return d.Send(ctx, SendRequest{Text: text, InReplyTo: inReplyTo})
}

// contextBody is the wire payload for POST /api/context.
type contextBody struct {
	SessionID string            `json:"session_id"`
	Context   map[string]string `json:"context"`
}

// SetAdditionalContext attaches key/value context to the active session for
// the agent to consult on subsequent turns.
func (d *Dispatcher) SetAdditionalContext(ctx context.Context, kv map[string]string) error {
	sessionID, err := d.machine.DispatchTarget()
	if err != nil {
		return err
	}
	if len(kv) == 0 {
		return ErrEmptyContext
	}

	if err := d.post(ctx, "/api/context", contextBody{SessionID: sessionID, Context: kv}); err != nil {
		return fmt.Errorf("setting context: %w", err)
	}
	return nil
}

// typingBody is the wire payload for POST /api/typing.
type typingBody struct {
	SessionID string `json:"session_id"`
	Active    bool   `json:"active"`
}

// SendTypingIndicator signals that the user started or stopped composing.
func (d *Dispatcher) SendTypingIndicator(ctx context.Context, active bool) error {
	sessionID, err := d.machine.DispatchTarget()
	if err != nil {
		return err
	}
	if err := d.post(ctx, "/api/typing", typingBody{SessionID: sessionID, Active: active}); err != nil {
		return fmt.Errorf("sending typing indicator: %w", err)
	}
	return nil
}

// post marshals body and issues one JSON request with the command timeout.
func (d *Dispatcher) post(ctx context.Context, path string, body any) error {
	cred, err := d.creds.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolving credential: %w", err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err = d.exec.Do(callCtx, &transport.Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        data,
		ContentType: "application/json",
		Credential:  cred,
	})
	return err
}
