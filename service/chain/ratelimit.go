package chain

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound calls to one explorer provider.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// IntervalLimiter is a token bucket that resets to its full budget on a fixed
// interval rather than refilling continuously. Explorer quotas are expressed
// as "N calls per window", so a hard reset matches what the providers enforce.
//
// Acquire consumes a token immediately when one is available; otherwise the
// caller is queued. On each tick the budget resets and queued callers are
// granted tokens oldest-first until the queue empties or the budget for that
// tick runs out. Admission order among queued callers is FIFO.
type IntervalLimiter struct {
	mu     sync.Mutex
	max    int
	tokens int
	queue  []*waiter

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

type waiter struct {
	ready    chan struct{}
	canceled bool
}

// NewIntervalLimiter constructs a limiter issuing up to max tokens per interval.
func NewIntervalLimiter(max int, interval time.Duration) *IntervalLimiter {
	if max <= 0 {
		panic("max must be positive")
	}
	if interval <= 0 {
		panic("interval must be positive")
	}
	l := &IntervalLimiter{
		max:    max,
		tokens: max,
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *IntervalLimiter) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.ticker.C:
			l.replenish()
		}
	}
}

// replenish resets the budget and drains queued waiters in arrival order.
// Waiters whose context was canceled are skipped without consuming a token.
func (l *IntervalLimiter) replenish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = l.max
	for len(l.queue) > 0 && l.tokens > 0 {
		w := l.queue[0]
		l.queue = l.queue[1:]
		if w.canceled {
			continue
		}
		l.tokens--
		close(w.ready)
	}
}

// Acquire blocks until a token is granted or the context ends. A canceled
// waiter is marked so the next tick does not waste budget on it.
func (l *IntervalLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.tokens > 0 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		w.canceled = true
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Close stops the replenishment ticker. Queued waiters are released so no
// goroutine is left blocked forever.
func (l *IntervalLimiter) Close() {
	l.once.Do(func() {
		l.ticker.Stop()
		close(l.done)
		l.mu.Lock()
		for _, w := range l.queue {
			if !w.canceled {
				close(w.ready)
			}
		}
		l.queue = nil
		l.mu.Unlock()
	})
}
