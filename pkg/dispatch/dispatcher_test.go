// ABOUTME: Tests for command dispatch validation, dedupe, and fail-fast errors.
// ABOUTME: Covers session gating, payload checks, replies, context, typing.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forcedotcom/agentforce-service-go/pkg/credential"
	"github.com/forcedotcom/agentforce-service-go/pkg/session"
	"github.com/forcedotcom/agentforce-service-go/pkg/transport"
)

// fakeExec records requests and fails paths or specific calls on demand.
type fakeExec struct {
	mu       sync.Mutex
	requests []transport.Request
	failWith map[string]error // path -> error
	failOn   map[int]error    // 1-based call number -> error
	failNext int              // fail this many calls regardless of path
}

func (f *fakeExec) Do(_ context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, *req)
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("transport down")
	}
	if err := f.failOn[len(f.requests)]; err != nil {
		return nil, err
	}
	if err := f.failWith[req.Path]; err != nil {
		return nil, err
	}
	return &transport.Response{StatusCode: 200, Body: []byte(`{}`)}, nil
}

func (f *fakeExec) OpenStream(context.Context, *transport.StreamRequest) (transport.Stream, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeExec) calls() []transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Request(nil), f.requests...)
}

func activeMachine(t *testing.T) *session.Machine {
	t.Helper()
	m := session.NewMachine(nil)
	require.NoError(t, m.Begin("", "https://org.example.com", nil))
	require.NoError(t, m.Activate("s1"))
	return m
}

func newDispatcher(t *testing.T, m *session.Machine) (*Dispatcher, *fakeExec) {
	t.Helper()
	exec := &fakeExec{failWith: map[string]error{}}
	d := New(exec, credential.Static(credential.OrgJWT("tok")), m, 0, nil)
	return d, exec
}

func TestSendMessage_DispatchesOneRequest(t *testing.T) {
	m := activeMachine(t)
	d, exec := newDispatcher(t, m)

	receipt, err := d.SendMessage(context.Background(), "hello agent")
	require.NoError(t, err)

	assert.Equal(t, "s1", receipt.SessionID)
	assert.NotEmpty(t, receipt.MessageID)
	assert.False(t, receipt.Duplicate)

	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/messages", calls[0].Path)

	var body sendBody
	require.NoError(t, json.Unmarshal(calls[0].Body, &body))
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, "hello agent", body.Text)
	assert.Empty(t, body.InReplyTo)
	assert.NotEmpty(t, body.IdempotencyKey)

	info, _ := m.Snapshot()
	assert.Equal(t, 1, info.MessageCount)
}

func TestSendMessage_NoActiveSessionIssuesNoRequest(t *testing.T) {
	m := session.NewMachine(nil) // Idle, no session
	d, exec := newDispatcher(t, m)

	_, err := d.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
	assert.Empty(t, exec.calls())
}

func TestSendMessage_ClosedSessionIssuesNoRequest(t *testing.T) {
	m := activeMachine(t)
	m.Close()
	d, exec := newDispatcher(t, m)

	_, err := d.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, session.ErrSessionClosed)
	assert.Empty(t, exec.calls())
}

func TestSendMessage_EmptyTextFailsFast(t *testing.T) {
	d, exec := newDispatcher(t, activeMachine(t))

	_, err := d.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, exec.calls())
}

func TestSend_DuplicateKeySuppressed(t *testing.T) {
	d, exec := newDispatcher(t, activeMachine(t))

	first, err := d.Send(context.Background(), SendRequest{Text: "hi", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := d.Send(context.Background(), SendRequest{Text: "hi", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Empty(t, second.MessageID)

	assert.Len(t, exec.calls(), 1, "duplicate issued no second request")
}

func TestSend_FailedDispatchReleasesKey(t *testing.T) {
	d, exec := newDispatcher(t, activeMachine(t))
	exec.failNext = 1

	_, err := d.Send(context.Background(), SendRequest{Text: "hi", IdempotencyKey: "k1"})
	require.Error(t, err)

	// No implicit retry happened; exactly one attempt went out.
	assert.Len(t, exec.calls(), 1)

	// The caller may retry with the same key.
	receipt, err := d.Send(context.Background(), SendRequest{Text: "hi", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)
	assert.Len(t, exec.calls(), 2)
}

func TestSendReply_CarriesInReplyTo(t *testing.T) {
	d, exec := newDispatcher(t, activeMachine(t))

	_, err := d.SendReply(context.Background(), "m-42", "option B")
	require.NoError(t, err)

	var body sendBody
	require.NoError(t, json.Unmarshal(exec.calls()[0].Body, &body))
	assert.Equal(t, "m-42", body.InReplyTo)
	assert.Equal(t, "option B", body.Text)
}

func TestSetAdditionalContext(t *testing.T) {
	d, exec := newDispatcher(t, activeMachine(t))

	err := d.SetAdditionalContext(context.Background(), map[string]string{"order_id": "o-7"})
	require.NoError(t, err)

	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/context", calls[0].Path)

	var body contextBody
	require.NoError(t, json.Unmarshal(calls[0].Body, &body))
	assert.Equal(t, "o-7", body.Context["order_id"])
}

func TestSetAdditionalContext_EmptyFailsFast(t *testing.T) {
	d, exec := newDispatcher(t, activeMachine(t))

	err := d.SetAdditionalContext(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyContext)
	assert.Empty(t, exec.calls())
}

func TestSendTypingIndicator(t *testing.T) {
	d, exec := newDispatcher(t, activeMachine(t))

	require.NoError(t, d.SendTypingIndicator(context.Background(), true))

	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/typing", calls[0].Path)

	var body typingBody
	require.NoError(t, json.Unmarshal(calls[0].Body, &body))
	assert.True(t, body.Active)
}

func TestCommandFailure_DoesNotAffectSessionState(t *testing.T) {
	m := activeMachine(t)
	d, exec := newDispatcher(t, m)
	exec.failWith["/api/context"] = errors.New("server rejected")

	err := d.SetAdditionalContext(context.Background(), map[string]string{"k": "v"})
	require.Error(t, err)

	info, ok := m.Snapshot()
	require.True(t, ok)
	assert.Equal(t, session.StateActive, info.State)
}
