// ABOUTME: Tests for the event multiplexer fan-out and overflow policy.
// ABOUTME: Covers ordering, combined-channel merge, slow subscribers, completion.

package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forcedotcom/agentforce-service-go/pkg/event"
)

func textRecord(seq int64, text string) *event.Record {
	return &event.Record{
		Type:      event.TypeTextChunk,
		SessionID: "s1",
		Seq:       seq,
		Timestamp: time.Now(),
		Text:      &event.TextChunk{MessageID: "m1", Text: text},
	}
}

func typingRecord(seq int64) *event.Record {
	return &event.Record{
		Type:      event.TypeTyping,
		SessionID: "s1",
		Seq:       seq,
		Timestamp: time.Now(),
		Typing:    &event.TypingIndicator{Active: true},
	}
}

// drain receives up to n records or fails the test on timeout.
func drain(t *testing.T, ch <-chan *event.Record, n int) []*event.Record {
	t.Helper()
	out := make([]*event.Record, 0, n)
	for len(out) < n {
		select {
		case rec, ok := <-ch:
			require.True(t, ok, "channel closed after %d of %d records", len(out), n)
			out = append(out, rec)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d records", len(out), n)
		}
	}
	return out
}

func TestMultiplexer_CategoryRouting(t *testing.T) {
	m := New(0, nil)
	defer m.Close()

	msgCh, _ := m.Subscribe(context.Background(), event.CategoryMessage)
	statusCh, _ := m.Subscribe(context.Background(), event.CategoryStatus)

	m.Publish(textRecord(1, "hello"))
	m.Publish(typingRecord(2))

	msgs := drain(t, msgCh, 1)
	assert.Equal(t, int64(1), msgs[0].Seq)

	statuses := drain(t, statusCh, 1)
	assert.Equal(t, int64(2), statuses[0].Seq)

	// Message subscriber never sees status records.
	select {
	case rec := <-msgCh:
		t.Fatalf("unexpected record on message channel: %v", rec.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultiplexer_OrderWithinCategory(t *testing.T) {
	m := New(0, nil)
	defer m.Close()

	ch, _ := m.Subscribe(context.Background(), event.CategoryMessage)
	for i := int64(1); i <= 10; i++ {
		m.Publish(textRecord(i, "chunk"))
	}

	recs := drain(t, ch, 10)
	for i, rec := range recs {
		assert.Equal(t, int64(i+1), rec.Seq)
	}
}

func TestMultiplexer_CombinedPreservesPerCategoryOrder(t *testing.T) {
	m := New(0, nil)
	defer m.Close()

	allCh, _ := m.SubscribeAll(context.Background())
	msgCh, _ := m.Subscribe(context.Background(), event.CategoryMessage)

	m.Publish(textRecord(1, "a"))
	m.Publish(typingRecord(2))
	m.Publish(textRecord(3, "b"))
	m.Publish(typingRecord(4))

	all := drain(t, allCh, 4)
	msgs := drain(t, msgCh, 2)

	// The combined channel interleaves both categories in ingress order.
	var combinedSeqs []int64
	for _, rec := range all {
		combinedSeqs = append(combinedSeqs, rec.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, combinedSeqs)

	// Its message sub-order matches the message channel exactly.
	var combinedMsgs []int64
	for _, rec := range all {
		if rec.Category() == event.CategoryMessage {
			combinedMsgs = append(combinedMsgs, rec.Seq)
		}
	}
	assert.Equal(t, []int64{msgs[0].Seq, msgs[1].Seq}, combinedMsgs)
}

func TestMultiplexer_MultipleSubscribersSameCategory(t *testing.T) {
	m := New(0, nil)
	defer m.Close()

	ch1, _ := m.Subscribe(context.Background(), event.CategoryMessage)
	ch2, _ := m.Subscribe(context.Background(), event.CategoryMessage)

	m.Publish(textRecord(1, "x"))

	assert.Equal(t, int64(1), drain(t, ch1, 1)[0].Seq)
	assert.Equal(t, int64(1), drain(t, ch2, 1)[0].Seq)
}

func TestMultiplexer_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	m := New(4, nil)
	defer m.Close()

	// slow is never read from; fast must still receive everything its
	// buffer can hold.
	_, _ = m.Subscribe(context.Background(), event.CategoryMessage)
	fastCh, _ := m.Subscribe(context.Background(), event.CategoryMessage)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(1); i <= 100; i++ {
			m.Publish(textRecord(i, "chunk"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked by slow subscriber")
	}

	// fast was not drained either, so it overflowed too; what remains in
	// its buffer must still be in order.
	got := drain(t, fastCh, 1)
	last := got[0].Seq
	for {
		select {
		case rec := <-fastCh:
			if rec.Type == event.TypeOverflow {
				continue
			}
			assert.Greater(t, rec.Seq, last)
			last = rec.Seq
		default:
			return
		}
	}
}

func TestMultiplexer_OverflowDropsOldestAndNotifies(t *testing.T) {
	m := New(4, nil)
	defer m.Close()

	ch, _ := m.Subscribe(context.Background(), event.CategoryMessage)

	// Fill the buffer (4) and push two more: 1 and 2 are dropped.
	for i := int64(1); i <= 6; i++ {
		m.Publish(textRecord(i, "chunk"))
	}

	// Drain two to open room for the deferred overflow notice, then
	// publish once more to trigger its delivery.
	first := drain(t, ch, 2)
	assert.Equal(t, int64(3), first[0].Seq, "oldest records were dropped")
	assert.Equal(t, int64(4), first[1].Seq)

	m.Publish(textRecord(7, "chunk"))

	rest := drain(t, ch, 4)
	assert.Equal(t, int64(5), rest[0].Seq)
	assert.Equal(t, int64(6), rest[1].Seq)
	require.Equal(t, event.TypeOverflow, rest[2].Type, "overflow notice delivered before records that follow the gap closure")
	assert.Equal(t, 2, rest[2].Overflow.Dropped)
	assert.Equal(t, event.CategoryMessage, rest[2].Overflow.Category)
	assert.Equal(t, int64(7), rest[3].Seq)
}

func TestMultiplexer_CloseFlushesPendingOverflowNotice(t *testing.T) {
	m := New(2, nil)

	ch, _ := m.Subscribe(context.Background(), event.CategoryMessage)

	// Buffer (2) fills with 3 and 4; 1 and 2 are dropped and the notice
	// stays pending. Close must deliver it, not lose it: the full buffer
	// gives up its oldest record (3) to make room, and the count reflects
	// that eviction too.
	for i := int64(1); i <= 4; i++ {
		m.Publish(textRecord(i, "chunk"))
	}
	m.Close()

	got := drain(t, ch, 2)
	assert.Equal(t, int64(4), got[0].Seq)
	require.Equal(t, event.TypeOverflow, got[1].Type, "subscriber completed without learning about the gap")
	assert.Equal(t, 3, got[1].Overflow.Dropped)
	assert.Equal(t, event.CategoryMessage, got[1].Overflow.Category)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestMultiplexer_CloseFlushesNoticeIntoDrainedBuffer(t *testing.T) {
	m := New(2, nil)

	ch, _ := m.Subscribe(context.Background(), event.CategoryMessage)

	for i := int64(1); i <= 4; i++ {
		m.Publish(textRecord(i, "chunk"))
	}

	// Drain everything before closing: the notice slots straight in
	// with the original drop count.
	got := drain(t, ch, 2)
	assert.Equal(t, int64(3), got[0].Seq)
	assert.Equal(t, int64(4), got[1].Seq)

	m.Close()

	rest := drain(t, ch, 1)
	require.Equal(t, event.TypeOverflow, rest[0].Type)
	assert.Equal(t, 2, rest[0].Overflow.Dropped)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestMultiplexer_CloseCompletesAllSubscribersOnce(t *testing.T) {
	m := New(0, nil)

	ch1, _ := m.Subscribe(context.Background(), event.CategoryMessage)
	ch2, _ := m.SubscribeAll(context.Background())

	m.Publish(textRecord(1, "x"))
	m.Close()
	m.Close() // idempotent

	// Buffered record still delivered, then the channel completes.
	assert.Equal(t, int64(1), drain(t, ch1, 1)[0].Seq)
	_, ok := <-ch1
	assert.False(t, ok)

	assert.Equal(t, int64(1), drain(t, ch2, 1)[0].Seq)
	_, ok = <-ch2
	assert.False(t, ok)

	// Publishing after close is a silent no-op.
	m.Publish(textRecord(2, "y"))

	// Subscribing after close yields an already-completed channel.
	ch3, _ := m.Subscribe(context.Background(), event.CategoryMessage)
	_, ok = <-ch3
	assert.False(t, ok)
}

func TestMultiplexer_ContextCancellationUnsubscribes(t *testing.T) {
	m := New(0, nil)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := m.Subscribe(ctx, event.CategoryMessage)
	cancel()

	// Channel completes shortly after cancellation.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not cleaned up after context cancellation")
		}
	}
}

func TestMultiplexer_ExplicitUnsubscribe(t *testing.T) {
	m := New(0, nil)
	defer m.Close()

	ch, subID := m.Subscribe(context.Background(), event.CategoryMessage)
	m.Unsubscribe(subID)

	_, ok := <-ch
	assert.False(t, ok)
}
