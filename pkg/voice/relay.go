// ABOUTME: Websocket relay for an external real-time media provider.
// ABOUTME: Forwards start/stop/mute controls and republishes inbound events verbatim.

package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forcedotcom/agentforce-service-go/pkg/event"
	"github.com/forcedotcom/agentforce-service-go/pkg/fanout"
)

// Voice errors
var (
	ErrNotStarted     = errors.New("voice relay not started")
	ErrAlreadyStarted = errors.New("voice relay already started")
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

// control is the outbound message shape for provider control calls.
type control struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Muted     bool   `json:"muted,omitempty"`
}

// Relay connects to the media provider and republishes its event feed.
type Relay struct {
	url    string
	dialer *websocket.Dialer
	mux    *fanout.Multiplexer
	logger *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex // serialises conn writes (controls, pings)
	conn    *websocket.Conn
	cancel  context.CancelFunc
}

// NewRelay creates a relay for the provider at url. Pass nil dialer for the
// websocket default and nil logger for the slog default.
func NewRelay(url string, dialer *websocket.Dialer, mux *fanout.Multiplexer, logger *slog.Logger) *Relay {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		url:    url,
		dialer: dialer,
		mux:    mux,
		logger: logger.With("component", "voice"),
	}
}

// Start dials the provider, announces the session, and begins relaying the
// inbound feed until Stop or connection loss.
func (r *Relay) Start(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return ErrAlreadyStarted
	}

	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return err
	}

	if err := r.write(conn, control{Type: "start", SessionID: sessionID}); err != nil {
		conn.Close()
		return err
	}

	relayCtx, cancel := context.WithCancel(ctx)
	r.conn = conn
	r.cancel = cancel

	go r.readLoop(conn, sessionID)
	go r.pingLoop(relayCtx, conn)

	r.logger.Info("voice relay started", "session_id", sessionID)
	return nil
}

// Stop tells the provider to stop and closes the connection. Safe to call
// when not started.
func (r *Relay) Stop() error {
	r.mu.Lock()
	conn := r.conn
	cancel := r.cancel
	r.conn = nil
	r.cancel = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()

	// Best effort: the provider may already be gone.
	_ = r.write(conn, control{Type: "stop"})
	return conn.Close()
}

// Mute toggles capture on the provider side.
func (r *Relay) Mute(muted bool) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return ErrNotStarted
	}
	return r.write(conn, control{Type: "mute", Muted: muted})
}

// write sends one control message under the write mutex.
func (r *Relay) write(conn *websocket.Conn, msg control) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop republishes inbound provider frames until the connection ends.
// Frames share the main stream's wire format; malformed ones are dropped
// with a decode notice, matching the stream transport's policy.
func (r *Relay) readLoop(conn *websocket.Conn, sessionID string) {
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
				if r.cancel != nil {
					r.cancel()
					r.cancel = nil
				}
			}
			r.mu.Unlock()
			conn.Close()
			r.logger.Debug("voice feed ended", "error", err)
			return
		}

		rec, err := event.Decode(data)
		if err != nil {
			r.logger.Warn("dropping malformed voice frame", "error", err)
			r.mux.Publish(event.NewDecodeFailure(sessionID, err))
			continue
		}

		// Relayed verbatim; no sequence token is assigned so the resume
		// marker stays untouched.
		rec.Seq = 0
		if rec.SessionID == "" {
			rec.SessionID = sessionID
		}
		r.mux.Publish(rec)
	}
}

// pingLoop keeps the provider connection alive until ctx is cancelled or
// the connection is replaced.
func (r *Relay) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			current := r.conn
			r.mu.Unlock()
			if current != conn {
				return
			}

			r.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			r.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
