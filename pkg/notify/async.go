package notify

import (
	"context"
	"sync"
	"time"

	"github.com/survarium-stats/importer/pkg/logger"
)

// AsyncNotifier hands events to a background sender so a slow webhook or an
// unreachable broker never stalls an import. Events are dropped when the
// buffer is full.
type AsyncNotifier struct {
	next    Notifier
	timeout time.Duration
	events  chan Event
	done    chan struct{}
	logger  *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewAsyncNotifier starts the sender. timeout bounds each delivery.
func NewAsyncNotifier(next Notifier, buffer int, timeout time.Duration) *AsyncNotifier {
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	n := &AsyncNotifier{
		next:    next,
		timeout: timeout,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		logger:  logger.New("notify-async"),
	}
	go n.run()
	return n
}

func (n *AsyncNotifier) Notify(_ context.Context, event Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	select {
	case n.events <- event:
	default:
		n.logger.Warn().
			Str("action", "notify_dropped").
			Str("event_type", string(event.Type)).
			Int("buffer", cap(n.events)).
			Msg("Notification buffer full, dropping status event")
	}
}

func (n *AsyncNotifier) run() {
	defer close(n.done)
	for event := range n.events {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		n.next.Notify(ctx, event)
		cancel()
	}
}

// Close stops accepting events and waits until the buffered ones are sent.
func (n *AsyncNotifier) Close() error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	n.mu.Unlock()

	<-n.done
	return nil
}
