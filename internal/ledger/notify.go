package ledger

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/stockledger/internal/model"
)

// Notifier receives fire-and-forget ledger-changed signals. Delivery is
// at-least-once for connected consumers and must never block the ingestion
// path.
type Notifier interface {
	LedgerChanged(triple model.Triple)
}

// NopNotifier discards all signals.
type NopNotifier struct{}

func (NopNotifier) LedgerChanged(model.Triple) {}

// Broadcaster fans ledger-changed signals out to in-process subscribers,
// e.g. the SSE feed in serve mode.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan model.Triple
	next int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan model.Triple)}
}

// Subscribe registers a consumer. The returned cancel func must be called
// when the consumer goes away.
func (b *Broadcaster) Subscribe() (<-chan model.Triple, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan model.Triple, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// LedgerChanged delivers the triple to every subscriber without blocking.
// A subscriber that cannot keep up misses the signal; consumers are
// expected to re-read the ledger on reconnect anyway.
func (b *Broadcaster) LedgerChanged(triple model.Triple) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- triple:
		default:
			zap.L().Debug("ledger: dropping change signal for slow subscriber",
				zap.String("triple", triple.String()))
		}
	}
}
