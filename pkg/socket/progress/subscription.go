package progress

import "sync"

// Subscription delivers channel events in order. Its buffer is unbounded so
// a slow reader never holds up the channel.
type Subscription struct {
	C <-chan Event

	id     int
	owner  *Channel
	out    chan Event
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (c *Channel) Subscribe() *Subscription {
	out := make(chan Event)
	s := &Subscription{
		C:      out,
		owner:  c,
		out:    out,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.subSeq++
	s.id = c.subSeq
	c.subs[s.id] = s
	c.mu.Unlock()

	go s.pump()
	return s
}

// Cancel stops delivery and closes C. Events still buffered are dropped.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s.id)
		s.owner.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
