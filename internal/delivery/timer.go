package delivery

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

var ErrTimerStopped = errors.New("timer stopped")

// Token identifies one scheduled entry. The zero Token is never issued.
type Token uint64

type timerEntry struct {
	token Token
	at    time.Time
	fn    func()
	index int
}

type entryHeap []*timerEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].token < h[j].token
	}
	return h[i].at.Before(h[j].at)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Timer runs callbacks once their delay has elapsed. A single goroutine
// pops due entries off a min-heap and runs them in due order, so callbacks
// must not block.
type Timer struct {
	log zerolog.Logger

	mu      sync.Mutex
	entries entryHeap
	byToken map[Token]*timerEntry
	last    Token
	stopped bool

	wake chan struct{}
	stop chan struct{}
	once sync.Once
	wg   conc.WaitGroup
}

func NewTimer(log zerolog.Logger) *Timer {
	return &Timer{
		log:     log,
		byToken: make(map[Token]*timerEntry),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (t *Timer) Start() {
	t.wg.Go(t.loop)
}

// Stop ends the dispatch loop and drops every pending entry.
func (t *Timer) Stop() {
	t.once.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.entries = nil
		t.byToken = make(map[Token]*timerEntry)
		t.mu.Unlock()

		close(t.stop)
	})
	t.wg.Wait()
}

// Schedule arranges for fn to run once, no earlier than delay from now.
func (t *Timer) Schedule(delay time.Duration, fn func()) (Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return 0, ErrTimerStopped
	}
	t.last++
	e := &timerEntry{
		token: t.last,
		at:    time.Now().Add(delay),
		fn:    fn,
	}
	heap.Push(&t.entries, e)
	t.byToken[e.token] = e

	if e.index == 0 {
		t.notify()
	}
	return e.token, nil
}

// Cancel removes a pending entry. It returns false when the entry already
// fired or never existed.
func (t *Timer) Cancel(token Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byToken[token]
	if !ok {
		return false
	}
	delete(t.byToken, token)
	heap.Remove(&t.entries, e.index)
	return true
}

// Len returns the number of pending entries.
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Timer) notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Timer) loop() {
	clock := time.NewTimer(time.Hour)
	clock.Stop()
	defer clock.Stop()

	for {
		due, wait, pending := t.popDue(time.Now())
		for _, e := range due {
			t.fire(e)
		}
		if len(due) > 0 {
			continue
		}

		var fired <-chan time.Time
		if pending {
			clock.Reset(wait)
			fired = clock.C
		}

		select {
		case <-t.stop:
			return
		case <-t.wake:
		case <-fired:
		}
		if !clock.Stop() {
			select {
			case <-clock.C:
			default:
			}
		}
	}
}

func (t *Timer) popDue(now time.Time) (due []*timerEntry, wait time.Duration, pending bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.entries) > 0 && !t.entries[0].at.After(now) {
		e := heap.Pop(&t.entries).(*timerEntry)
		delete(t.byToken, e.token)
		due = append(due, e)
	}
	if len(t.entries) > 0 {
		return due, t.entries[0].at.Sub(now), true
	}
	return due, 0, false
}

func (t *Timer) fire(e *timerEntry) {
	var pc panics.Catcher
	pc.Try(e.fn)
	if r := pc.Recovered(); r != nil {
		t.log.Error().Err(r.AsError()).Uint64("token", uint64(e.token)).Msg("timer callback panicked")
	}
}
