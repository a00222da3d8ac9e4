// ABOUTME: Tests for attachment uploads, progress streaming, partial failure.
// ABOUTME: Covers the failed-subset report and monotone progress fractions.

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forcedotcom/agentforce-service-go/pkg/session"
)

func att(name string) Attachment {
	return Attachment{Filename: name, MimeType: "text/plain", Data: []byte("payload")}
}

// progressRecorder collects per-attachment fractions.
type progressRecorder struct {
	mu        sync.Mutex
	fractions map[string][]float64
}

func newProgressRecorder() *progressRecorder {
	return &progressRecorder{fractions: make(map[string][]float64)}
}

func (p *progressRecorder) sink(filename string, fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fractions[filename] = append(p.fractions[filename], fraction)
}

func (p *progressRecorder) of(filename string) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.fractions[filename]...)
}

func TestUploadAttachments_AllSucceed(t *testing.T) {
	d, exec := newDispatcher(t, activeMachine(t))
	rec := newProgressRecorder()

	result, err := d.UploadAttachments(context.Background(), []Attachment{att("a.txt"), att("b.txt")}, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b.txt"}, result.Uploaded)
	assert.Empty(t, result.Failed)
	assert.False(t, result.PartialFailure())
	assert.Len(t, exec.calls(), 2)

	for _, name := range []string{"a.txt", "b.txt"} {
		fracs := rec.of(name)
		require.NotEmpty(t, fracs, "progress reported for %s", name)
		assert.Equal(t, 1.0, fracs[len(fracs)-1], "%s reached completion", name)
		for i := 1; i < len(fracs); i++ {
			assert.GreaterOrEqual(t, fracs[i], fracs[i-1], "%s progress monotone", name)
		}
	}
}

func TestUploadAttachments_PartialFailureReportsFailedSubset(t *testing.T) {
	d, exec := newDispatcher(t, activeMachine(t))
	rec := newProgressRecorder()

	// Fail exactly the second of three uploads.
	boom := errors.New("disk quota exceeded")
	exec.failOn = map[int]error{2: boom}

	attachments := []Attachment{att("a.txt"), att("b.txt"), att("c.txt")}
	result, err := d.UploadAttachments(context.Background(), attachments, rec.sink)
	require.NoError(t, err, "partial failure resolves the call, not errors it")

	assert.Equal(t, []string{"a.txt", "c.txt"}, result.Uploaded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "b.txt", result.Failed[0].Filename)
	assert.ErrorIs(t, result.Failed[0].Err, boom)
	assert.True(t, result.PartialFailure())

	// Succeeded attachments reached 1.0 before completion; the failed one
	// never did.
	aFracs := rec.of("a.txt")
	assert.Equal(t, 1.0, aFracs[len(aFracs)-1])
	for _, f := range rec.of("b.txt") {
		assert.Less(t, f, 1.0)
	}
}

func TestUploadAttachments_NoAttachmentsFailsFast(t *testing.T) {
	d, exec := newDispatcher(t, activeMachine(t))

	_, err := d.UploadAttachments(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoAttachments)
	assert.Empty(t, exec.calls())
}

func TestUploadAttachments_RequiresOperableSession(t *testing.T) {
	m := session.NewMachine(nil)
	d, exec := newDispatcher(t, m)

	_, err := d.UploadAttachments(context.Background(), []Attachment{att("a.txt")}, nil)
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
	assert.Empty(t, exec.calls())
}

func TestUploadAttachments_InvalidAttachmentFailsThatAttachmentOnly(t *testing.T) {
	d, _ := newDispatcher(t, activeMachine(t))

	result, err := d.UploadAttachments(context.Background(), []Attachment{
		att("good.txt"),
		{Filename: "", MimeType: "text/plain", Data: []byte("x")},
		{Filename: "empty.bin", MimeType: "application/octet-stream"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"good.txt"}, result.Uploaded)
	assert.Len(t, result.Failed, 2)
}

func TestSeenCache_TTLExpiry(t *testing.T) {
	c := newSeenCache(time.Minute, 10)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	assert.False(t, c.checkAndMark("k"))
	assert.True(t, c.checkAndMark("k"))

	now = now.Add(2 * time.Minute)
	assert.False(t, c.checkAndMark("k"), "expired key is fresh again")
}

func TestSeenCache_EvictsOldestAtCapacity(t *testing.T) {
	c := newSeenCache(time.Hour, 2)

	assert.False(t, c.checkAndMark("a"))
	assert.False(t, c.checkAndMark("b"))
	assert.False(t, c.checkAndMark("c")) // evicts a

	assert.False(t, c.checkAndMark("a"), "oldest key was evicted")
	assert.True(t, c.checkAndMark("c"))
}

func TestSeenCache_Forget(t *testing.T) {
	c := newSeenCache(time.Hour, 10)

	assert.False(t, c.checkAndMark("k"))
	c.forget("k")
	assert.False(t, c.checkAndMark("k"))
}
