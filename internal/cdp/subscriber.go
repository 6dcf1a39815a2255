package cdp

import "sync"

// subscriber delivers events to one handler in order. push never blocks; the
// queue grows while the handler is busy.
type subscriber struct {
	handler func(Event)

	mu     sync.Mutex
	queue  []Event
	signal chan struct{}

	quit     chan struct{}
	stopOnce sync.Once
}

func newSubscriber(handler func(Event)) *subscriber {
	s := &subscriber{
		handler: handler,
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscriber) push(evt Event) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// stop ends delivery. Queued events are dropped and a handler already
// running is not interrupted.
func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, evt := range batch {
				select {
				case <-s.quit:
					return
				default:
				}
				s.handler(evt)
			}
		}
	}
}
