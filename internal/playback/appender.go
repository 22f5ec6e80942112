package playback

import (
	"context"
	"sync"

	"github.com/rustingibbsfight/hume-document-reader/internal/audio"
)

// appender feeds frames to a StreamingSink one at a time. Frames arriving
// while an append is outstanding wait in the queue and are drained, in
// arrival order, from the completion callback.
type appender struct {
	sink    StreamingSink
	queue   *audio.FrameQueue
	onFirst func()

	mu        sync.Mutex
	appending bool
	pumping   bool
	appended  int
	err       error
	changed   chan struct{}
}

func newAppender(sink StreamingSink, queue *audio.FrameQueue, onFirst func()) *appender {
	return &appender{
		sink:    sink,
		queue:   queue,
		onFirst: onFirst,
		changed: make(chan struct{}),
	}
}

func (a *appender) push(frame []byte) error {
	a.mu.Lock()
	err := a.err
	a.mu.Unlock()
	if err != nil {
		return err
	}

	a.queue.Push(frame)
	a.pump()
	return nil
}

func (a *appender) pump() {
	a.mu.Lock()
	if a.pumping {
		a.mu.Unlock()
		return
	}
	a.pumping = true

	for !a.appending && a.err == nil {
		frame, ok := a.queue.Pop()
		if !ok {
			break
		}
		a.appending = true
		a.mu.Unlock()

		if err := a.sink.Append(frame, a.complete); err != nil {
			a.complete(err)
		}

		a.mu.Lock()
	}

	a.pumping = false
	a.notify()
	a.mu.Unlock()
}

func (a *appender) complete(err error) {
	a.mu.Lock()
	a.appending = false
	first := false
	if err != nil {
		if a.err == nil {
			a.err = err
		}
	} else {
		a.appended++
		first = a.appended == 1
	}
	pumping := a.pumping
	a.notify()
	a.mu.Unlock()

	if first && a.onFirst != nil {
		a.onFirst()
	}
	if !pumping {
		a.pump()
	}
}

// notify wakes waiters; mu must be held.
func (a *appender) notify() {
	close(a.changed)
	a.changed = make(chan struct{})
}

// drain blocks until every queued frame has been appended.
func (a *appender) drain(ctx context.Context) error {
	for {
		a.mu.Lock()
		if a.err != nil {
			err := a.err
			a.mu.Unlock()
			return err
		}
		if !a.appending && a.queue.IsEmpty() {
			a.mu.Unlock()
			return nil
		}
		ch := a.changed
		a.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *appender) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appended
}
