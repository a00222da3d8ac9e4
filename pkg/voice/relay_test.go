// ABOUTME: Tests for the media provider websocket relay.
// ABOUTME: Uses an in-process websocket server scripted per test.

package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forcedotcom/agentforce-service-go/pkg/event"
	"github.com/forcedotcom/agentforce-service-go/pkg/fanout"
)

// provider is a scripted websocket endpoint standing in for the media
// provider. It records control messages and pushes the given frames after
// receiving the start control.
type provider struct {
	frames   [][]byte
	controls chan map[string]any
}

func newProvider(frames ...[]byte) *provider {
	return &provider{frames: frames, controls: make(chan map[string]any, 16)}
}

func (p *provider) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		started := false
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ctl map[string]any
			if err := json.Unmarshal(data, &ctl); err != nil {
				continue
			}
			p.controls <- ctl

			if ctl["type"] == "start" && !started {
				started = true
				for _, frame := range p.frames {
					if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				}
			}
			if ctl["type"] == "stop" {
				return
			}
		}
	}
}

func (p *provider) nextControl(t *testing.T) map[string]any {
	t.Helper()
	select {
	case ctl := <-p.controls:
		return ctl
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control message")
		return nil
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recv(t *testing.T, ch <-chan *event.Record) *event.Record {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record")
		return nil
	}
}

func TestRelayRepublishesTranscriptions(t *testing.T) {
	p := newProvider(
		[]byte(`{"type":"transcription","seq":41,"payload":{"text":"hello","final":false}}`),
		[]byte(`{"type":"transcription","payload":{"text":"hello world","final":true}}`),
	)
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	mux := fanout.New(8, nil)
	defer mux.Close()
	messages, _ := mux.Subscribe(context.Background(), event.CategoryMessage)

	relay := NewRelay(wsURL(srv), nil, mux, nil)
	require.NoError(t, relay.Start(context.Background(), "sess-1"))
	defer relay.Stop()

	ctl := p.nextControl(t)
	assert.Equal(t, "start", ctl["type"])
	assert.Equal(t, "sess-1", ctl["session_id"])

	first := recv(t, messages)
	require.Equal(t, event.TypeTranscription, first.Type)
	require.NotNil(t, first.Transcription)
	assert.Equal(t, "hello", first.Transcription.Text)
	assert.False(t, first.Transcription.Final)
	// Relay records never carry a sequence token, even when the provider
	// sends one.
	assert.Zero(t, first.Seq)
	assert.Equal(t, "sess-1", first.SessionID)

	second := recv(t, messages)
	assert.Equal(t, "hello world", second.Transcription.Text)
	assert.True(t, second.Transcription.Final)
}

func TestRelayRoutesPresenceToStatus(t *testing.T) {
	p := newProvider(
		[]byte(`{"type":"presence","payload":{"participant":"agent","online":true}}`),
	)
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	mux := fanout.New(8, nil)
	defer mux.Close()
	status, _ := mux.Subscribe(context.Background(), event.CategoryStatus)

	relay := NewRelay(wsURL(srv), nil, mux, nil)
	require.NoError(t, relay.Start(context.Background(), "sess-1"))
	defer relay.Stop()

	rec := recv(t, status)
	require.Equal(t, event.TypePresence, rec.Type)
	require.NotNil(t, rec.Presence)
	assert.Equal(t, "agent", rec.Presence.Participant)
	assert.True(t, rec.Presence.Online)
}

func TestRelayMalformedFrameYieldsDecodeNotice(t *testing.T) {
	p := newProvider(
		[]byte(`{not json`),
		[]byte(`{"type":"transcription","payload":{"text":"ok","final":true}}`),
	)
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	mux := fanout.New(8, nil)
	defer mux.Close()
	status, _ := mux.Subscribe(context.Background(), event.CategoryStatus)
	messages, _ := mux.Subscribe(context.Background(), event.CategoryMessage)

	relay := NewRelay(wsURL(srv), nil, mux, nil)
	require.NoError(t, relay.Start(context.Background(), "sess-1"))
	defer relay.Stop()

	notice := recv(t, status)
	assert.Equal(t, event.TypeDecodeFailure, notice.Type)

	// The feed survives the malformed frame.
	rec := recv(t, messages)
	assert.Equal(t, "ok", rec.Transcription.Text)
}

func TestRelayMuteAndStop(t *testing.T) {
	p := newProvider()
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	mux := fanout.New(8, nil)
	defer mux.Close()

	relay := NewRelay(wsURL(srv), nil, mux, nil)
	require.NoError(t, relay.Start(context.Background(), "sess-1"))
	p.nextControl(t) // start

	require.NoError(t, relay.Mute(true))
	ctl := p.nextControl(t)
	assert.Equal(t, "mute", ctl["type"])
	assert.Equal(t, true, ctl["muted"])

	require.NoError(t, relay.Stop())

	// After Stop, controls fail fast.
	assert.ErrorIs(t, relay.Mute(false), ErrNotStarted)
}

func TestRelayStartTwiceFails(t *testing.T) {
	p := newProvider()
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	mux := fanout.New(8, nil)
	defer mux.Close()

	relay := NewRelay(wsURL(srv), nil, mux, nil)
	require.NoError(t, relay.Start(context.Background(), "sess-1"))
	defer relay.Stop()

	assert.ErrorIs(t, relay.Start(context.Background(), "sess-1"), ErrAlreadyStarted)
}

func TestRelayStopWithoutStart(t *testing.T) {
	mux := fanout.New(8, nil)
	defer mux.Close()

	relay := NewRelay("ws://unused", nil, mux, nil)
	assert.NoError(t, relay.Stop())
}
