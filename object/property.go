package object

import "sync"

// propertyBase holds a property's current value plus the change signal
// exposed under the same ID (spec §3: "properties implicitly expose a
// signal under the same ID").
type propertyBase struct {
	mu     sync.RWMutex
	val    Value
	signal *signalBase
}

func newPropertyBase(sig *signalBase) *propertyBase {
	return &propertyBase{signal: sig}
}

func (p *propertyBase) value() Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.val
}

func (p *propertyBase) setValue(v Value) {
	p.mu.Lock()
	p.val = v
	p.mu.Unlock()
	if p.signal != nil {
		p.signal.trigger([]Value{v})
	}
}
