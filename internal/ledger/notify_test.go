package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/stockledger/internal/model"
)

func TestBroadcaster_DeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster()

	ch, cancel := b.Subscribe()
	defer cancel()

	b.LedgerChanged(testTriple)

	select {
	case got := <-ch:
		assert.Equal(t, testTriple, got)
	case <-time.After(time.Second):
		t.Fatal("no signal delivered")
	}
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()

	ch, cancel := b.Subscribe()
	cancel()

	// Channel is closed on unsubscribe; sending afterwards must not panic.
	b.LedgerChanged(testTriple)

	_, open := <-ch
	assert.False(t, open)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()

	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the buffer; signals beyond it are dropped.
		for range 100 {
			b.LedgerChanged(model.Triple{Factory: 1, Warehouse: "w", DocType: "d"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = NopNotifier{}
	require.NotPanics(t, func() { n.LedgerChanged(testTriple) })
}
