package object

import "fmt"

// Signature is an opaque type-signature string. The wire-format grammar
// behind it is out of scope (spec §1); only enough structure is kept here
// to decide convertibility for the optional return-signature check in
// metaCall (spec §4.3).
type Signature string

const (
	// SignatureDynamic matches anything — the "*" wildcard.
	SignatureDynamic Signature = "*"
	SignatureVoid    Signature = "v"
)

// ConvertibleTo reports whether a value of signature s can be converted
// to a value of signature other. Dynamic is convertible both ways with
// anything; otherwise only identical signatures convert. This is a
// deliberately conservative stand-in for the original's full signature
// algebra, which depended on the (out of scope) wire format.
func (s Signature) ConvertibleTo(other Signature) bool {
	if s == other || s == SignatureDynamic || other == SignatureDynamic {
		return true
	}
	return false
}

// MetaMethod describes one callable method.
type MetaMethod struct {
	ID               uint32
	Name             string
	ParamsSignature  Signature
	ReturnSignature  Signature
}

// MetaSignal describes one signal (event channel).
type MetaSignal struct {
	ID              uint32
	Name            string
	ParamsSignature Signature
}

// MetaProperty describes one property. Properties implicitly expose a
// signal under the same ID (spec §3).
type MetaProperty struct {
	ID        uint32
	Name      string
	Signature Signature
}

// MetaObject is the introspection catalog for a DynamicObject: the
// name/signature catalogs for methods, signals and properties.
type MetaObject struct {
	methods    map[uint32]MetaMethod
	signals    map[uint32]MetaSignal
	properties map[uint32]MetaProperty
}

// NewMetaObject returns an empty catalog ready for AddMethod/AddSignal/AddProperty.
func NewMetaObject() MetaObject {
	return MetaObject{
		methods:    map[uint32]MetaMethod{},
		signals:    map[uint32]MetaSignal{},
		properties: map[uint32]MetaProperty{},
	}
}

func (m *MetaObject) AddMethod(mm MetaMethod) {
	if m.methods == nil {
		m.methods = map[uint32]MetaMethod{}
	}
	m.methods[mm.ID] = mm
}

func (m *MetaObject) AddSignal(ms MetaSignal) {
	if m.signals == nil {
		m.signals = map[uint32]MetaSignal{}
	}
	m.signals[ms.ID] = ms
}

func (m *MetaObject) AddProperty(mp MetaProperty) {
	if m.properties == nil {
		m.properties = map[uint32]MetaProperty{}
	}
	m.properties[mp.ID] = mp
	// A property implicitly carries a signal under the same ID.
	m.AddSignal(MetaSignal{ID: mp.ID, Name: mp.Name, ParamsSignature: mp.Signature})
}

func (m MetaObject) Method(id uint32) (MetaMethod, bool) {
	mm, ok := m.methods[id]
	return mm, ok
}

func (m MetaObject) Signal(id uint32) (MetaSignal, bool) {
	ms, ok := m.signals[id]
	return ms, ok
}

func (m MetaObject) Property(id uint32) (MetaProperty, bool) {
	mp, ok := m.properties[id]
	return mp, ok
}

func (m MetaObject) Methods() map[uint32]MetaMethod { return m.methods }

// Merge combines two catalogs, used to graft the framework-provided
// Manageable operation set onto an object's own meta object (spec §4.3,
// "the Manageable ID range is reserved for framework-provided operations").
func Merge(a, b MetaObject) MetaObject {
	out := NewMetaObject()
	for _, mm := range a.methods {
		out.AddMethod(mm)
	}
	for _, mm := range b.methods {
		out.AddMethod(mm)
	}
	for _, ms := range a.signals {
		out.AddSignal(ms)
	}
	for _, ms := range b.signals {
		out.AddSignal(ms)
	}
	for _, mp := range a.properties {
		out.AddProperty(mp)
	}
	for _, mp := range b.properties {
		out.AddProperty(mp)
	}
	return out
}

func (m MetaMethod) String() string {
	return fmt.Sprintf("%s(%s) -> %s", m.Name, m.ParamsSignature, m.ReturnSignature)
}
