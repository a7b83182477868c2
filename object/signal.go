package object

import "sync"

// SignalLink is an opaque subscription token: (eventID << 32) | localLinkID.
// The invariant link>>32 == eventID must hold for every link handed back
// by Connect (spec §3, §8 invariant 5).
type SignalLink uint64

// MakeSignalLink packs an event ID and a per-signal local link ID into a
// SignalLink, asserting the recoverability invariant.
func MakeSignalLink(eventID uint32, local uint32) SignalLink {
	link := SignalLink(uint64(eventID)<<32 | uint64(local))
	if uint32(link>>32) != eventID {
		panic("object: signal link does not recover its event id")
	}
	return link
}

// EventID extracts the event ID a SignalLink was connected under.
func (l SignalLink) EventID() uint32 { return uint32(l >> 32) }

// localID extracts the per-signal subscription id.
func (l SignalLink) localID() uint32 { return uint32(l) }

// Subscriber receives a signal's arguments on every trigger.
type Subscriber func(args []Value)

// signalBase is the emitter for one signal ID. Its mutex guards only the
// subscriber table; trigger calls made one after another reach each
// subscriber in emit order, while triggers from different goroutines are
// not serialized against each other.
type signalBase struct {
	mu     sync.Mutex
	subs   map[uint32]Subscriber
	order  []uint32
	nextID uint32
}

func newSignalBase() *signalBase {
	return &signalBase{subs: map[uint32]Subscriber{}}
}

// connect registers sub and returns its local link id.
func (s *signalBase) connect(sub Subscriber) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[id] = sub
	s.order = append(s.order, id)
	return id
}

// disconnect removes a subscriber, reporting whether it existed.
func (s *signalBase) disconnect(local uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[local]; !ok {
		return false
	}
	delete(s.subs, local)
	for i, id := range s.order {
		if id == local {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// trigger delivers args to every current subscriber, in registration
// order. It snapshots the subscriber list under the mutex and releases it
// before delivery, so a subscriber may connect, disconnect or trigger
// from inside its own body without deadlocking.
func (s *signalBase) trigger(args []Value) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.order))
	for _, id := range s.order {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub(args)
	}
}
