// Package presenter reveals a finished answer one word at a time.
package presenter

import (
	"strings"
	"sync"
	"time"
)

const DefaultInterval = 100 * time.Millisecond

type Presenter struct {
	interval time.Duration
}

type Option func(*Presenter)

func WithInterval(d time.Duration) Option {
	return func(p *Presenter) {
		if d > 0 {
			p.interval = d
		}
	}
}

func New(opts ...Option) *Presenter {
	p := &Presenter{interval: DefaultInterval}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle controls one presentation.
type Handle struct {
	stop     chan struct{}
	once     sync.Once
	finished chan struct{}
}

// Cancel stops the presentation. onDone is never called after Cancel
// returns. It must not be called from inside the callbacks.
func (h *Handle) Cancel() {
	h.once.Do(func() { close(h.stop) })
	<-h.finished
}

// Finished is closed once the presentation has completed or been cancelled.
func (h *Handle) Finished() <-chan struct{} {
	return h.finished
}

// Present splits text on whitespace and, on every tick, passes the words
// revealed so far to onUpdate. After the last word it passes "" to onUpdate
// and calls onDone exactly once.
func (p *Presenter) Present(text string, onUpdate func(string), onDone func()) *Handle {
	h := &Handle{stop: make(chan struct{}), finished: make(chan struct{})}
	words := strings.Fields(text)

	go func() {
		defer close(h.finished)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		shown := 0
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
			}
			// A cancel racing the tick wins.
			select {
			case <-h.stop:
				return
			default:
			}
			if shown < len(words) {
				shown++
				if onUpdate != nil {
					onUpdate(strings.Join(words[:shown], " "))
				}
				continue
			}
			if onUpdate != nil {
				onUpdate("")
			}
			if onDone != nil {
				onDone()
			}
			return
		}
	}()
	return h
}
