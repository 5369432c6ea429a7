package engine

import (
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sequenceRand returns 0, step, 2*step, ... modulo n.
func sequenceRand(step int64) func(n int64) int64 {
	var mu sync.Mutex
	var next int64
	return func(n int64) int64 {
		mu.Lock()
		defer mu.Unlock()
		v := next % n
		next += step
		return v
	}
}

func zeroRand(int64) int64 { return 0 }

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(bus *EventBus) *eventLog {
	log := &eventLog{}
	bus.OnEvent(func(e Event) {
		log.mu.Lock()
		log.events = append(log.events, e)
		log.mu.Unlock()
	})
	return log
}

func (l *eventLog) count(typ EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}
