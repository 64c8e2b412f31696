package audio

import "sync"

// Fanout distributes frames from a single input channel to any number of
// subscribers. A slow subscriber never stalls the others: when its buffer is
// full the frame is dropped for that subscriber only.
//
// Fanout implements [Source].
type Fanout struct {
	mu     sync.Mutex
	subs   map[int]chan AudioFrame
	nextID int
	closed bool
	done   chan struct{}
}

var _ Source = (*Fanout)(nil)

// NewFanout starts distributing frames read from in. All subscriptions are
// closed when in is closed or [Fanout.Close] is called.
func NewFanout(in <-chan AudioFrame) *Fanout {
	f := &Fanout{
		subs: make(map[int]chan AudioFrame),
		done: make(chan struct{}),
	}
	go f.run(in)
	return f
}

func (f *Fanout) run(in <-chan AudioFrame) {
	defer f.Close()
	for {
		select {
		case <-f.done:
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			f.publish(frame)
		}
	}
}

func (f *Fanout) publish(frame AudioFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Subscribe implements [Source]. Subscribing to a closed Fanout returns an
// already-closed channel.
func (f *Fanout) Subscribe(buffer int) (<-chan AudioFrame, func()) {
	ch := make(chan AudioFrame, max(buffer, 0))

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Fanout) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close stops distribution and closes every subscription. Idempotent.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
