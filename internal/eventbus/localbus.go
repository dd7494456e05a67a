package eventbus

import "sync"

// defaultQueueCapacity is the per-subscriber bound spec.md §9 Open
// Questions asks for on the in-process fallback queue: non-blocking and
// drop-oldest on overflow (see DESIGN.md resolution 2).
const defaultQueueCapacity = 10000

// eventRing is a fixed-capacity, drop-oldest ring buffer of Events,
// adapted from the byte ring in the teacher's pkg/tailbuffer (same
// overwrite semantics, generalized from bytes to Event values) to back
// each subscriber's inbox.
type eventRing struct {
	mu       sync.Mutex
	buf      []Event
	capacity int
	size     int
	read     int
	write    int
	notify   chan struct{}
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{
		buf:      make([]Event, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (r *eventRing) push(e Event) {
	r.mu.Lock()
	r.buf[r.write] = e
	r.write = (r.write + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	} else {
		// Overwriting the oldest unread slot; advance read to match.
		r.read = (r.read + 1) % r.capacity
	}
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// pop returns the oldest queued event, or ok=false if empty.
func (r *eventRing) pop() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return Event{}, false
	}
	e := r.buf[r.read]
	r.read = (r.read + 1) % r.capacity
	r.size--
	return e, true
}

type subscription struct {
	subject  string
	ring     *eventRing
	done     chan struct{}
	closeOne sync.Once
}

func (s *subscription) close() {
	s.closeOne.Do(func() { close(s.done) })
}

// LocalBus is the in-process fallback used automatically when no external
// broker is configured, per spec.md §6. Each subscriber owns an
// independent bounded ring so a slow subscriber never blocks another
// subscriber or the publisher (spec.md §5: "subscribers process at their
// own pace and are responsible for their own backpressure").
type LocalBus struct {
	capacity int

	mu   sync.Mutex
	subs map[string][]*subscription
}

// NewLocalBus constructs a LocalBus with the default per-subscriber queue
// capacity.
func NewLocalBus() *LocalBus {
	return &LocalBus{capacity: defaultQueueCapacity, subs: map[string][]*subscription{}}
}

func (b *LocalBus) Publish(subject string, payload any) error {
	data, err := marshal(payload)
	if err != nil {
		return err
	}
	evt := Event{Subject: subject, Payload: data}

	b.mu.Lock()
	targets := append([]*subscription(nil), b.subs[subject]...)
	b.mu.Unlock()

	for _, s := range targets {
		s.ring.push(evt)
	}
	return nil
}

func (b *LocalBus) Subscribe(subject string, fn func(Event)) (unsubscribe func()) {
	sub := &subscription{subject: subject, ring: newEventRing(b.capacity), done: make(chan struct{})}

	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case <-sub.ring.notify:
			}
			for {
				e, ok := sub.ring.pop()
				if !ok {
					break
				}
				fn(e)
			}
		}
	}()

	return func() {
		sub.close()
		b.mu.Lock()
		defer b.mu.Unlock()
		peers := b.subs[subject]
		for i, s := range peers {
			if s == sub {
				b.subs[subject] = append(peers[:i], peers[i+1:]...)
				break
			}
		}
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, s := range subs {
			s.close()
		}
	}
	b.subs = map[string][]*subscription{}
	return nil
}
