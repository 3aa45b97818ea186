package sandbox

import (
	"context"
	"sync"
	"time"
)

type task struct {
	token *Token
	fn    func()
}

// loop queues deferred callbacks for one page. Tasks only run in drain, on
// the goroutine that owns the page.
type loop struct {
	mu      sync.Mutex
	queue   []task
	pending int
	timers  map[int64]*time.Timer
	nextID  int64
	closed  bool
	wake    chan struct{}
}

func newLoop() *loop {
	return &loop{
		timers: make(map[int64]*time.Timer),
		wake:   make(chan struct{}, 1),
	}
}

func (l *loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// enqueue schedules fn to run on the next drain.
func (l *loop) enqueue(tok *Token, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue = append(l.queue, task{token: tok, fn: fn})
	l.signal()
	return true
}

// async registers one in-flight operation. The returned function must be
// called exactly once, from any goroutine, with the callback to queue.
func (l *loop) async(tok *Token) (func(fn func()), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false
	}
	l.pending++

	var once sync.Once
	return func(fn func()) {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.closed {
				return
			}
			l.pending--
			l.queue = append(l.queue, task{token: tok, fn: fn})
			l.signal()
		})
	}, true
}

// setTimeout queues fn after delay and returns a handle for clearTimeout.
func (l *loop) setTimeout(tok *Token, delay time.Duration, fn func()) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}
	l.nextID++
	handle := l.nextID
	l.pending++
	l.timers[handle] = time.AfterFunc(delay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.timers[handle]; !ok || l.closed {
			return
		}
		delete(l.timers, handle)
		l.pending--
		l.queue = append(l.queue, task{token: tok, fn: fn})
		l.signal()
	})
	return handle
}

func (l *loop) clearTimeout(handle int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[handle]; ok {
		t.Stop()
		delete(l.timers, handle)
		l.pending--
	}
}

// next pops one task. It reports idle when nothing is queued or pending.
func (l *loop) next() (t task, ok, idle bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return task{}, false, true
	}
	if len(l.queue) > 0 {
		t = l.queue[0]
		l.queue = l.queue[1:]
		return t, true, false
	}
	return task{}, false, l.pending == 0
}

// drain runs tasks through run until the loop is idle or ctx is done.
func (l *loop) drain(ctx context.Context, run func(task)) error {
	for {
		t, ok, idle := l.next()
		if ok {
			run(t)
			continue
		}
		if idle {
			return nil
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *loop) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, t := range l.timers {
		t.Stop()
	}
	l.timers = nil
	l.queue = nil
	l.pending = 0
	l.signal()
}

func (l *loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
