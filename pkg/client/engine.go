// ABOUTME: Engine facade wiring the state machine, stream, dispatcher, and fanout.
// ABOUTME: Session lifecycle operations, command passthroughs, and subscriptions.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/forcedotcom/agentforce-service-go/pkg/credential"
	"github.com/forcedotcom/agentforce-service-go/pkg/dispatch"
	"github.com/forcedotcom/agentforce-service-go/pkg/event"
	"github.com/forcedotcom/agentforce-service-go/pkg/fanout"
	"github.com/forcedotcom/agentforce-service-go/pkg/session"
	"github.com/forcedotcom/agentforce-service-go/pkg/stream"
	"github.com/forcedotcom/agentforce-service-go/pkg/transport"
	"github.com/forcedotcom/agentforce-service-go/pkg/voice"
)

// Engine errors
var (
	ErrNoCredentials = errors.New("credential provider required")
	ErrNoTransport   = errors.New("base URL or executor required")
)

const defaultCommandTimeout = 30 * time.Second

// Options configures an Engine. Either BaseURL or Executor must be set;
// Executor wins when both are.
type Options struct {
	BaseURL     string
	Executor    transport.Executor
	Credentials credential.Provider

	InstanceURL  string
	Capabilities []string

	Stream         stream.Config
	BufferSize     int           // per-subscriber event buffer, 0 for default
	CommandTimeout time.Duration // per-command deadline, 0 for default
	Logger         *slog.Logger
}

// Engine is the facade over one conversational session: at most one active
// session, one supervised stream, and any number of event subscribers.
type Engine struct {
	exec       transport.Executor
	creds      credential.Provider
	machine    *session.Machine
	mux        *fanout.Multiplexer
	stream     *stream.Transport
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	instanceURL  string
	capabilities []string
	timeout      time.Duration
}

// New assembles an engine from opts.
func New(opts Options) (*Engine, error) {
	if opts.Credentials == nil {
		return nil, ErrNoCredentials
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	exec := opts.Executor
	if exec == nil {
		if opts.BaseURL == "" {
			return nil, ErrNoTransport
		}
		exec = transport.NewHTTPExecutor(opts.BaseURL, nil, logger)
	}

	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	machine := session.NewMachine(logger)
	mux := fanout.New(opts.BufferSize, logger)

	return &Engine{
		exec:         exec,
		creds:        opts.Credentials,
		machine:      machine,
		mux:          mux,
		stream:       stream.New(opts.Stream, exec, opts.Credentials, machine, mux, logger),
		dispatcher:   dispatch.New(exec, opts.Credentials, machine, timeout, logger),
		logger:       logger.With("component", "client"),
		instanceURL:  opts.InstanceURL,
		capabilities: opts.Capabilities,
		timeout:      timeout,
	}, nil
}

// sessionBody is the wire payload for session start and end calls.
type sessionBody struct {
	SessionID    string   `json:"session_id,omitempty"`
	InstanceURL  string   `json:"instance_url,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Resume       bool     `json:"resume,omitempty"`
}

// sessionResponse is the server acknowledgment of a session start.
type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// StartSession begins a fresh session and opens the event stream. It returns
// the server-assigned session identity.
func (e *Engine) StartSession(ctx context.Context) (string, error) {
	return e.beginSession(ctx, "")
}

// ResumeSession reattaches to a previously ended or dropped session. The
// stream resumes from the last delivered sequence marker, so records already
// seen are not redelivered.
func (e *Engine) ResumeSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("%w: empty session id", session.ErrBadTransition)
	}
	return e.beginSession(ctx, sessionID)
}

func (e *Engine) beginSession(ctx context.Context, existingID string) (string, error) {
	if err := e.machine.Begin(existingID, e.instanceURL, e.capabilities); err != nil {
		return "", err
	}

	body := sessionBody{
		SessionID:    existingID,
		InstanceURL:  e.instanceURL,
		Capabilities: e.capabilities,
		Resume:       existingID != "",
	}
	respBody, err := e.do(ctx, http.MethodPost, "/api/session", body)
	if err != nil {
		e.machine.Fail(err)
		return "", fmt.Errorf("starting session: %w", err)
	}

	var resp sessionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		e.machine.Fail(err)
		return "", fmt.Errorf("parsing session response: %w", err)
	}

	if err := e.machine.Activate(resp.SessionID); err != nil {
		e.machine.Fail(err)
		return "", err
	}

	// The stream loop outlives the start call's context: a cancelled request
	// scope must not silently kill the connection under an Active session.
	// Only EndSession, Close, or a terminal fault stop the loop.
	if err := e.stream.Open(context.WithoutCancel(ctx)); err != nil {
		e.machine.Fail(err)
		return "", err
	}

	info, _ := e.machine.Snapshot()
	e.logger.Info("session started", "session_id", info.ID, "resume", existingID != "")
	return info.ID, nil
}

// EndSession gracefully ends the active session: the stream is closed, the
// server is told to end the session, and the identity is retained so a later
// ResumeSession can pick it back up.
func (e *Engine) EndSession(ctx context.Context) error {
	info, ok := e.machine.Snapshot()
	if !ok {
		return session.ErrNoActiveSession
	}
	if err := e.machine.End(); err != nil {
		return err
	}

	e.stream.Close()

	if _, err := e.do(ctx, http.MethodDelete, "/api/session", sessionBody{SessionID: info.ID}); err != nil {
		e.machine.Fail(err)
		return fmt.Errorf("ending session: %w", err)
	}
	return e.machine.Ended()
}

// Close shuts the engine down for good: the stream stops, every subscriber
// channel completes exactly once, and the machine enters its terminal state.
// Safe to call repeatedly.
func (e *Engine) Close() {
	e.stream.Close()
	e.mux.Close()
	e.machine.Close()
}

// SendMessage dispatches a fresh utterance to the active session.
func (e *Engine) SendMessage(ctx context.Context, text string) (*dispatch.Receipt, error) {
	return e.dispatcher.SendMessage(ctx, text)
}

// SendReply dispatches an answer to a prior inquiry or choice set.
func (e *Engine) SendReply(ctx context.Context, inReplyTo, text string) (*dispatch.Receipt, error) {
	return e.dispatcher.SendReply(ctx, inReplyTo, text)
}

// Send dispatches with full control over the request, including the
// idempotency key.
func (e *Engine) Send(ctx context.Context, req dispatch.SendRequest) (*dispatch.Receipt, error) {
	return e.dispatcher.Send(ctx, req)
}

// SetAdditionalContext attaches key/value context for the agent's next turns.
func (e *Engine) SetAdditionalContext(ctx context.Context, kv map[string]string) error {
	return e.dispatcher.SetAdditionalContext(ctx, kv)
}

// SendTypingIndicator signals that the user started or stopped composing.
func (e *Engine) SendTypingIndicator(ctx context.Context, active bool) error {
	return e.dispatcher.SendTypingIndicator(ctx, active)
}

// UploadAttachments uploads files to the active session with per-attachment
// progress reporting. See dispatch.UploadResult for partial-failure handling.
func (e *Engine) UploadAttachments(ctx context.Context, atts []dispatch.Attachment, progress dispatch.ProgressFunc) (*dispatch.UploadResult, error) {
	return e.dispatcher.UploadAttachments(ctx, atts, progress)
}

// Messages subscribes to the message category: text chunks, inquiries,
// choice sets, transcriptions.
func (e *Engine) Messages(ctx context.Context) (<-chan *event.Record, string) {
	return e.mux.Subscribe(ctx, event.CategoryMessage)
}

// System subscribes to session lifecycle events.
func (e *Engine) System(ctx context.Context) (<-chan *event.Record, string) {
	return e.mux.Subscribe(ctx, event.CategorySystem)
}

// Status subscribes to typing, presence, acks, server errors, and locally
// generated connection notices.
func (e *Engine) Status(ctx context.Context) (<-chan *event.Record, string) {
	return e.mux.Subscribe(ctx, event.CategoryStatus)
}

// All subscribes to every category on one combined channel.
func (e *Engine) All(ctx context.Context) (<-chan *event.Record, string) {
	return e.mux.SubscribeAll(ctx)
}

// Unsubscribe detaches a subscriber and closes its channel.
func (e *Engine) Unsubscribe(subID string) {
	e.mux.Unsubscribe(subID)
}

// CurrentSessionInfo returns a read-only snapshot of the session, or ok=false
// when none exists.
func (e *Engine) CurrentSessionInfo() (session.Info, bool) {
	return e.machine.Snapshot()
}

// Voice creates a media-provider relay feeding this engine's subscribers.
// The caller owns its lifecycle.
func (e *Engine) Voice(url string) *voice.Relay {
	return voice.NewRelay(url, nil, e.mux, e.logger)
}

// do issues one JSON command call under the engine's command timeout.
func (e *Engine) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	cred, err := e.creds.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving credential: %w", err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.exec.Do(callCtx, &transport.Request{
		Method:      method,
		Path:        path,
		Body:        data,
		ContentType: "application/json",
		Credential:  cred,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
