package nilm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	t.Parallel()
	h := NewHub()
	id1, ch1 := h.Subscribe()
	id2, ch2 := h.Subscribe()
	defer h.Unsubscribe(id1)
	defer h.Unsubscribe(id2)

	ev := AppearanceEvent{SignatureID: "sig-1", Direction: DirectionOn, MagnitudeWatts: 150}
	h.Publish(ev)

	for _, ch := range []<-chan AppearanceEvent{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "sig-1", got.SignatureID)
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	h := NewHub()
	id, ch := h.Subscribe()
	defer h.Unsubscribe(id)

	// Nobody drains ch: overflow past the buffer must drop, not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(AppearanceEvent{MagnitudeWatts: float64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	h := NewHub()
	id, ch := h.Subscribe()

	h.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.SubscriberCount())

	// Unsubscribing twice is harmless.
	h.Unsubscribe(id)
}

func TestHubClose(t *testing.T) {
	t.Parallel()
	h := NewHub()
	_, ch := h.Subscribe()

	h.Close()
	_, open := <-ch
	require.False(t, open)

	// Late subscribers get an already-closed channel instead of a leak.
	_, late := h.Subscribe()
	_, open = <-late
	assert.False(t, open)

	// Publish after close is a no-op.
	h.Publish(AppearanceEvent{})
}
