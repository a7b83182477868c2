package directory

import (
	"sync"

	"github.com/distribd/qimw/object"
)

// signalFanout is a minimal, typed signal emitter for ServiceInfo events.
// It mirrors object.signalBase's registration-order, lock-snapshot-then-
// deliver discipline (spec §5 ordering guarantee) but is kept local to
// this package since the directory's ServiceRegistered/ServiceUnregistered
// events carry a concrete ServiceInfo rather than a generic object.Value.
type signalFanout struct {
	mu     sync.Mutex
	subs   map[uint32]func(ServiceInfo)
	order  []uint32
	nextID uint32
}

func newSignalFanout() *signalFanout {
	return &signalFanout{subs: map[uint32]func(ServiceInfo){}}
}

func (s *signalFanout) connect(fn func(ServiceInfo)) object.SignalLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.order = append(s.order, id)
	return object.MakeSignalLink(0, id)
}

func (s *signalFanout) disconnect(link object.SignalLink) bool {
	local := uint32(link)
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

func (s *signalFanout) emit(info ServiceInfo) {
	s.mu.Lock()
	fns := make([]func(ServiceInfo), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(info)
	}
}
