package session

import (
	"sync"
	"time"

	"github.com/whistler-io/whistler/internal/kube"
)

// resizeCoalescer rate-limits window-change events: the first event
// fires immediately, then a cooldown runs; if a newer size is pending
// when it expires and differs from the last applied one, it is applied
// and the cooldown restarts.
type resizeCoalescer struct {
	cooldown time.Duration
	apply    func(width, height uint16)

	mu      sync.Mutex
	pending *kube.TerminalSize
	last    kube.TerminalSize
	active  bool
	stopped bool
}

func newResizeCoalescer(cooldown time.Duration, apply func(width, height uint16)) *resizeCoalescer {
	return &resizeCoalescer{cooldown: cooldown, apply: apply}
}

// Post submits a resize event.
func (r *resizeCoalescer) Post(width, height uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	size := kube.TerminalSize{Width: width, Height: height}
	if r.active {
		r.pending = &size
		return
	}

	r.last = size
	r.active = true
	r.apply(width, height)
	time.AfterFunc(r.cooldown, r.expire)
}

func (r *resizeCoalescer) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	if r.pending != nil && *r.pending != r.last {
		r.last = *r.pending
		r.pending = nil
		r.apply(r.last.Width, r.last.Height)
		time.AfterFunc(r.cooldown, r.expire)
		return
	}
	r.pending = nil
	r.active = false
}

// Stop drops any pending size and ignores further posts.
func (r *resizeCoalescer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.pending = nil
}
