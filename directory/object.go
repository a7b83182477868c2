package directory

import (
	"context"
	"fmt"

	"github.com/distribd/qimw/object"
	"github.com/distribd/qimw/transport"
)

// Directory wire method IDs (spec §4.5): the five remote operations
// exposed on the bootstrap object, service id 1.
const (
	ActionRegisterService   uint32 = 0
	ActionUnregisterService uint32 = 1
	ActionServiceReady      uint32 = 2
	ActionService           uint32 = 3
	ActionServices          uint32 = 4
)

// Meta is the bootstrap object's introspection catalog, shared by every
// *object.Object a socket gets bound to (spec §4.5 "via the same dynamic
// object machinery" the rest of the core dispatches through).
func Meta() object.MetaObject {
	m := object.NewMetaObject()
	m.AddMethod(object.MetaMethod{ID: ActionRegisterService, Name: "registerService", ParamsSignature: object.SignatureDynamic, ReturnSignature: object.SignatureDynamic})
	m.AddMethod(object.MetaMethod{ID: ActionUnregisterService, Name: "unregisterService", ParamsSignature: object.SignatureDynamic, ReturnSignature: object.SignatureVoid})
	m.AddMethod(object.MetaMethod{ID: ActionServiceReady, Name: "serviceReady", ParamsSignature: object.SignatureDynamic, ReturnSignature: object.SignatureVoid})
	m.AddMethod(object.MetaMethod{ID: ActionService, Name: "service", ParamsSignature: object.SignatureDynamic, ReturnSignature: object.SignatureDynamic})
	m.AddMethod(object.MetaMethod{ID: ActionServices, Name: "services", ParamsSignature: object.SignatureVoid, ReturnSignature: object.SignatureDynamic})
	return m
}

// NewBoundObject returns the directory's bootstrap object bound to sock:
// registerService attributes new registrations to sock the same way
// HandleDisconnect later unregisters them (spec §4.5 "disconnect
// cleanup"). Every accepted socket gets its own bound object, mirroring
// the per-socket Bind call that exposes it.
func NewBoundObject(d *Directory, sock transport.Socket) *object.Object {
	obj := object.NewObject(Meta(), object.ThreadingMultiThread, nil)

	obj.SetMethod(ActionRegisterService, func(_ context.Context, _ any, params []object.Value) (object.Value, error) {
		if len(params) != 1 {
			return object.Value{}, fmt.Errorf("directory: registerService wants 1 argument, got %d", len(params))
		}
		info, err := ValueToServiceInfo(params[0])
		if err != nil {
			return object.Value{}, err
		}
		id, err := d.RegisterService(info, sock)
		if err != nil {
			return object.Value{}, err
		}
		return object.From(uint64(id)), nil
	}, object.HintAuto)

	obj.SetMethod(ActionUnregisterService, func(_ context.Context, _ any, params []object.Value) (object.Value, error) {
		id, err := paramServiceID(params, "unregisterService")
		if err != nil {
			return object.Value{}, err
		}
		return object.Value{}, d.UnregisterService(id)
	}, object.HintAuto)

	obj.SetMethod(ActionServiceReady, func(_ context.Context, _ any, params []object.Value) (object.Value, error) {
		id, err := paramServiceID(params, "serviceReady")
		if err != nil {
			return object.Value{}, err
		}
		return object.Value{}, d.ServiceReady(id)
	}, object.HintAuto)

	obj.SetMethod(ActionService, func(_ context.Context, _ any, params []object.Value) (object.Value, error) {
		if len(params) != 1 || params[0].Kind != object.KindString {
			return object.Value{}, fmt.Errorf("directory: service wants 1 string argument")
		}
		name, _ := params[0].Scalar.(string)
		return ServiceInfoToValue(d.Service(name)), nil
	}, object.HintAuto)

	obj.SetMethod(ActionServices, func(_ context.Context, _ any, _ []object.Value) (object.Value, error) {
		infos := d.Services()
		out := make([]object.Value, len(infos))
		for i, info := range infos {
			out[i] = ServiceInfoToValue(info)
		}
		return object.Value{Kind: object.KindList, List: out}, nil
	}, object.HintAuto)

	return obj
}

func paramServiceID(params []object.Value, op string) (uint32, error) {
	if len(params) != 1 {
		return 0, fmt.Errorf("directory: %s wants 1 argument, got %d", op, len(params))
	}
	switch n := params[0].Scalar.(type) {
	case uint32:
		return n, nil
	case int:
		return uint32(n), nil
	case int64:
		return uint32(n), nil
	case uint64:
		return uint32(n), nil
	case float64: // JSONCodec round-trips JSON numbers as float64
		return uint32(n), nil
	default:
		return 0, fmt.Errorf("directory: %s: unsupported integer representation %T", op, n)
	}
}

// ServiceInfoToValue projects ServiceInfo onto the wire as a KindMap — the
// bootstrap object's own wire grammar, independent of whatever Codec a
// deployment plugs into a RemoteObject (spec §1 "the actual marshalling
// codec is out of scope").
func ServiceInfoToValue(info ServiceInfo) object.Value {
	endpoints := make([]object.Value, len(info.Endpoints))
	for i, ep := range info.Endpoints {
		endpoints[i] = object.From(ep.String())
	}
	return object.Value{Kind: object.KindMap, Map: map[string]object.Value{
		"name":      object.From(info.Name),
		"serviceId": object.From(uint64(info.ServiceID)),
		"machineId": object.From(info.MachineID),
		"endpoints": {Kind: object.KindList, List: endpoints},
	}}
}

// ValueToServiceInfo is the inverse of ServiceInfoToValue.
func ValueToServiceInfo(v object.Value) (ServiceInfo, error) {
	if v.Kind != object.KindMap {
		return ServiceInfo{}, fmt.Errorf("directory: expected a service record, got kind %d", v.Kind)
	}
	name, _ := v.Map["name"].Scalar.(string)
	if name == "" {
		return ServiceInfo{}, fmt.Errorf("directory: service record missing a name")
	}
	machineID, _ := v.Map["machineId"].Scalar.(string)

	var serviceID uint32
	if sv := v.Map["serviceId"]; sv.Scalar != nil {
		id, err := paramServiceID([]object.Value{sv}, "service record")
		if err != nil {
			return ServiceInfo{}, err
		}
		serviceID = id
	}

	var endpoints []transport.URL
	for _, ev := range v.Map["endpoints"].List {
		s, _ := ev.Scalar.(string)
		u, err := transport.ParseURL(s)
		if err != nil {
			return ServiceInfo{}, fmt.Errorf("directory: service record: %w", err)
		}
		endpoints = append(endpoints, u)
	}

	return ServiceInfo{Name: name, ServiceID: serviceID, MachineID: machineID, Endpoints: endpoints}, nil
}
