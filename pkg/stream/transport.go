// ABOUTME: Supervised server-push connection loop with reconnect and resume.
// ABOUTME: Decodes frames, dedupes by sequence token, publishes to the multiplexer.

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/forcedotcom/agentforce-service-go/pkg/credential"
	"github.com/forcedotcom/agentforce-service-go/pkg/event"
	"github.com/forcedotcom/agentforce-service-go/pkg/fanout"
	"github.com/forcedotcom/agentforce-service-go/pkg/session"
	"github.com/forcedotcom/agentforce-service-go/pkg/transport"
)

// Stream errors
var (
	ErrAlreadyOpen    = errors.New("stream already open")
	ErrRetryExhausted = errors.New("reconnect attempts exhausted")
	ErrDecodeStorm    = errors.New("too many consecutive decode failures")
)

// Config bounds the connection loop. Zero values select the defaults.
type Config struct {
	Path               string        // server-push endpoint, default /api/stream
	BaseDelay          time.Duration // first backoff ceiling, default 500ms
	MaxDelay           time.Duration // backoff ceiling cap, default 30s
	MaxAttempts        int           // consecutive reconnect budget, default 10
	IdleTimeout        time.Duration // no-frame window before forcing reconnect, default 5m
	DecodeFailureLimit int           // consecutive bad frames before reconnect, default 5
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/api/stream"
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.DecodeFailureLimit <= 0 {
		c.DecodeFailureLimit = 5
	}
	return c
}

// Transport owns the long-lived read side of a session: one supervised
// connection-reader task feeding the multiplexer ingress.
type Transport struct {
	cfg     Config
	exec    transport.Executor
	creds   credential.Provider
	machine *session.Machine
	mux     *fanout.Multiplexer
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stream transport. Pass nil logger for default.
func New(cfg Config, exec transport.Executor, creds credential.Provider, machine *session.Machine, mux *fanout.Multiplexer, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:     cfg.withDefaults(),
		exec:    exec,
		creds:   creds,
		machine: machine,
		mux:     mux,
		logger:  logger.With("component", "stream"),
	}
}

// Open starts the supervised connection loop for the current session. It
// returns immediately; progress is reported as status records. A terminal
// fault stops the loop for good and must be followed by a new Open.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return ErrAlreadyOpen
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go func() {
		t.run(loopCtx)
		// A natural exit (terminal fault) releases the slot so a new Open
		// can restart the stream.
		t.mu.Lock()
		if t.done == done {
			t.cancel = nil
			t.done = nil
		}
		t.mu.Unlock()
		close(done)
	}()
	return nil
}

// Close cancels the in-flight connection attempt, including any pending
// backoff delay, and waits for the reader task to exit. Safe to call when
// not open.
func (t *Transport) Close() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// run is the supervised connection loop. It exits on context cancellation
// or a terminal fault, emitting at most one terminal stream-failure record.
func (t *Transport) run(ctx context.Context) {
	attempt := 0
	boff := newBackoff(t.cfg.BaseDelay, t.cfg.MaxDelay)

	for {
		if ctx.Err() != nil {
			return
		}

		sessionID := t.sessionID()
		t.mux.Publish(event.NewConnectionStatus(sessionID, event.ConnConnecting, attempt))

		connected, err := t.connectAndRead(ctx, sessionID)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// A successful connection resets the reconnect budget.
			attempt = 0
		}

		t.mux.Publish(event.NewConnectionStatus(sessionID, event.ConnDisconnected, attempt))

		if !retryable(err) {
			t.fail(sessionID, err)
			return
		}

		attempt++
		if attempt > t.cfg.MaxAttempts {
			t.fail(sessionID, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, t.cfg.MaxAttempts, err))
			return
		}

		delay := boff.delay(attempt)
		t.logger.Debug("reconnecting", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndRead opens one connection and reads it until failure. The read
// loop only ends on a fault or orderly close, both returned for
// classification; connected reports whether the connection was established
// so the caller can reset its attempt counter.
func (t *Transport) connectAndRead(ctx context.Context, sessionID string) (connected bool, _ error) {
	cred, err := t.creds.Resolve(ctx)
	if err != nil {
		return false, &authError{err}
	}

	st, err := t.exec.OpenStream(ctx, &transport.StreamRequest{
		Path:       t.cfg.Path,
		SessionID:  sessionID,
		LastSeq:    t.machine.LastSeq(),
		Credential: cred,
	})
	if err != nil {
		return false, err
	}
	defer st.Close()

	// Cancellation must unblock a reader stuck in Next.
	stop := context.AfterFunc(ctx, func() { st.Close() })
	defer stop()

	t.mux.Publish(event.NewConnectionStatus(sessionID, event.ConnConnected, 0))
	t.logger.Info("stream connected", "session_id", sessionID, "resume_from", t.machine.LastSeq())

	// Idle connections are forced closed so the loop reconnects; Next then
	// returns a read error classified as retryable.
	idle := time.AfterFunc(t.cfg.IdleTimeout, func() { st.Close() })
	defer idle.Stop()

	decodeFailures := 0
	for {
		frame, err := st.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return true, fmt.Errorf("server closed stream: %w", err)
			}
			return true, err
		}
		idle.Reset(t.cfg.IdleTimeout)

		rec, err := event.Decode(frame)
		if err != nil {
			decodeFailures++
			t.logger.Warn("dropping malformed frame", "error", err, "consecutive", decodeFailures)
			t.mux.Publish(event.NewDecodeFailure(sessionID, err))
			if decodeFailures >= t.cfg.DecodeFailureLimit {
				return true, fmt.Errorf("%w: %d in a row", ErrDecodeStorm, decodeFailures)
			}
			continue
		}
		decodeFailures = 0

		t.deliver(rec)
	}
}

// deliver applies sequence-token deduplication and publishes the record.
// Tokens at or below the last delivered marker are duplicates from a resume
// redelivery and are dropped; tokenless frames get the next marker in
// arrival order.
func (t *Transport) deliver(rec *event.Record) {
	marker := t.machine.LastSeq()

	if rec.Seq == 0 {
		rec.Seq = marker + 1
	} else if rec.Seq <= marker {
		t.logger.Debug("dropping duplicate record", "seq", rec.Seq, "marker", marker)
		return
	}

	t.mux.Publish(rec)
	t.machine.MarkDelivered(rec.Seq)
}

// fail surfaces a terminal fault exactly once: the session drops to Idle
// and a single terminal stream-failure record is emitted.
func (t *Transport) fail(sessionID string, err error) {
	t.logger.Error("stream terminated", "session_id", sessionID, "error", err)
	t.machine.Fail(err)
	t.mux.Publish(event.NewStreamFailure(sessionID, err))
}

func (t *Transport) sessionID() string {
	if info, ok := t.machine.Snapshot(); ok {
		return info.ID
	}
	return ""
}

// authError marks credential resolution failures as terminal.
type authError struct{ err error }

func (e *authError) Error() string { return "resolving credential: " + e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

// retryable classifies a connection fault. Auth rejections, session-not-
// found, and credential failures are terminal; transient transport faults,
// server closes, and decode storms are retried.
func retryable(err error) bool {
	var ae *authError
	if errors.As(err, &ae) {
		return false
	}

	var se *transport.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return false
		}
		return se.Retryable()
	}

	return true
}
