package pipesvc

import (
	"encoding/json"
	"errors"

	"github.com/anyfast/anyfast-core/internal/hostsio"
	"github.com/anyfast/anyfast-core/internal/model"
)

// Dispatcher executes incoming requests against a hostsio.Manager. It is
// the service-side half of the protocol; the broker's pipe client is the
// other half (see client_windows.go).
type Dispatcher struct {
	Hosts *hostsio.Manager
}

// Handle processes one request and always returns a Response (never an
// error): protocol and application failures are encoded in the response's
// Error field per JSON-RPC 2.0.
func (d *Dispatcher) Handle(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	result, err := d.dispatch(req.Method, req.Params)
	if err != nil {
		resp.Error = toRPCError(err)
		return resp
	}
	resp.Result = result
	return resp
}

func (d *Dispatcher) dispatch(method string, params json.RawMessage) (json.RawMessage, error) {
	switch method {
	case MethodPing:
		return marshal(pingResult{Pong: true, Version: ProtocolVersion})

	case MethodWriteBinding:
		var p bindingParam
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := d.Hosts.Write(p.Domain, p.IP); err != nil {
			return nil, err
		}
		return marshal(struct{}{})

	case MethodWriteBindingsBatch:
		var p writeBindingsBatchParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		bindings := make([]model.PinnedBinding, len(p.Bindings))
		for i, b := range p.Bindings {
			bindings[i] = model.PinnedBinding{Domain: b.Domain, IP: b.IP}
		}
		if err := d.Hosts.WriteBatch(bindings); err != nil {
			return nil, err
		}
		return marshal(countResult{Count: len(bindings)})

	case MethodClearBinding:
		var p clearBindingParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := d.Hosts.Clear(p.Domain); err != nil {
			return nil, err
		}
		return marshal(struct{}{})

	case MethodClearBindingsBatch:
		var p clearBindingsBatchParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		n, err := d.Hosts.ClearBatch(p.Domains)
		if err != nil {
			return nil, err
		}
		return marshal(countResult{Count: n})

	case MethodReadBinding:
		var p readBindingParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		ip, ok, err := d.Hosts.Read(p.Domain)
		if err != nil {
			return nil, err
		}
		res := readBindingResult{}
		if ok {
			res.IP = &ip
		}
		return marshal(res)

	case MethodGetAllBindings:
		bindings, err := d.Hosts.AllBindings()
		if err != nil {
			return nil, err
		}
		out := make([]bindingParam, len(bindings))
		for i, b := range bindings {
			out[i] = bindingParam{Domain: b.Domain, IP: b.IP}
		}
		return marshal(getAllBindingsResult{Bindings: out})

	case MethodFlushDNS:
		if err := d.Hosts.FlushDNS(); err != nil {
			return nil, err
		}
		return marshal(struct{}{})

	default:
		return nil, &RPCError{Code: ErrCodeUnknownMethod, Message: "unknown method: " + method}
	}
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &RPCError{Code: ErrCodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &RPCError{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}

func marshal(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: err.Error()}
	}
	return b, nil
}

// toRPCError maps an internal error into the JSON-RPC application error
// codes from spec §4.2.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errors.Is(err, hostsio.ErrPermissionDenied):
		return &RPCError{Code: ErrCodePermissionDenied, Message: err.Error()}
	case errors.Is(err, hostsio.ErrInvalidIP):
		return &RPCError{Code: ErrCodeInvalidIP, Message: err.Error()}
	case errors.Is(err, hostsio.ErrInvalidDomain):
		return &RPCError{Code: ErrCodeInvalidDomain, Message: err.Error()}
	default:
		return &RPCError{Code: ErrCodeIO, Message: err.Error()}
	}
}
