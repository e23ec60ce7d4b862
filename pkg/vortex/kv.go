package vortex

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

const (
	kvCodeKeyNotFound   = 20
	kvCodeCasFailed     = 22
	maxFetchAndAttempts = 10000 // defensive ceiling; see SPEC_FULL.md supplemented-feature note
)

// kvReadReq/kvWriteReq/kvCasReq are the outbound request shapes for the
// seq-kv/lin-kv protocol (spec.md §4.5, §6).
type kvReadReq struct {
	Type string          `json:"type"`
	Key  json.RawMessage `json:"key"`
}

type kvWriteReq struct {
	Type  string          `json:"type"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
}

type kvCasReq struct {
	Type              string          `json:"type"`
	Key               json.RawMessage `json:"key"`
	From              json.RawMessage `json:"from"`
	To                json.RawMessage `json:"to"`
	CreateIfNotExists bool            `json:"create_if_not_exists"`
}

// kvWireResponse is any of read_ok/write_ok/cas_ok/error.
type kvWireResponse struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
	Code  int             `json:"code"`
	Text  string          `json:"text"`
}

func mustRaw(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// v is always a key/value already round-tripped through JSON, so
		// this only fires on a programmer error.
		panic(fmt.Sprintf("vortex: unmarshalable kv value %#v: %s", v, err))
	}
	return raw
}

// HandleKV decodes a reply from a KV peer (seq-kv/lin-kv) and routes it
// through the generic ack path with wire errors translated into RpcError,
// per spec.md §4.5. Callers dispatch to HandleKV whenever msg.Src is a
// known KV service name.
func (n *Node) HandleKV(msg Message) error {
	resp, err := DecodePayload[kvWireResponse](msg.Body)
	if err != nil {
		return err
	}
	switch resp.Type {
	case "read_ok":
		return n.Ack(msg, resp.Value, nil)
	case "write_ok", "cas_ok":
		return n.Ack(msg, json.RawMessage("null"), nil)
	case "error":
		return n.Ack(msg, nil, translateKVError(resp.Code, resp.Text))
	default:
		return n.Ack(msg, nil, &RpcError{Kind: RpcUnknown, Code: -1, Text: "unrecognized kv response type: " + resp.Type})
	}
}

func translateKVError(code int, text string) error {
	switch code {
	case kvCodeKeyNotFound:
		return &RpcError{Kind: RpcKeyNotFound, Code: code, Text: text}
	case kvCodeCasFailed:
		return &RpcError{Kind: RpcCasFailed, Code: code, Text: text}
	default:
		return &RpcError{Kind: RpcUnknown, Code: code, Text: text}
	}
}

// KvRead reads key from svc ("seq-kv" or "lin-kv"), returning (nil, nil)
// when the key is not found rather than an error (spec.md §4.5).
func (n *Node) KvRead(ctx context.Context, svc string, key any) (json.RawMessage, error) {
	ctx, span := Tracer().Start(ctx, "vortex.Node.KvRead")
	defer span.End()
	span.SetAttributes(attribute.String("vortex.kv.service", svc))

	raw, err := n.Rpc(ctx, svc, kvReadReq{Type: "read", Key: mustRaw(key)})
	if err != nil {
		if IsKeyNotFound(err) {
			return nil, nil
		}
		return nil, wrapNodeError(fmt.Sprintf("unexpected response from %s", svc), err)
	}
	return raw, nil
}

// KvWrite unconditionally writes value to key on svc.
func (n *Node) KvWrite(ctx context.Context, svc string, key, value any) error {
	ctx, span := Tracer().Start(ctx, "vortex.Node.KvWrite")
	defer span.End()
	span.SetAttributes(attribute.String("vortex.kv.service", svc))

	_, err := n.Rpc(ctx, svc, kvWriteReq{Type: "write", Key: mustRaw(key), Value: mustRaw(value)})
	if err != nil {
		return wrapNodeError(fmt.Sprintf("unexpected response from %s", svc), err)
	}
	return nil
}

// KvCas compares-and-swaps key from "from" to "to" on svc, creating the
// key if missing (spec.md §4.5: "so that an initial CAS against a missing
// key succeeds"). Returns false (not an error) on a precondition failure.
func (n *Node) KvCas(ctx context.Context, svc string, key, from, to any) (bool, error) {
	ctx, span := Tracer().Start(ctx, "vortex.Node.KvCas")
	defer span.End()
	span.SetAttributes(attribute.String("vortex.kv.service", svc))

	_, err := n.Rpc(ctx, svc, kvCasReq{
		Type:              "cas",
		Key:               mustRaw(key),
		From:              mustRaw(from),
		To:                mustRaw(to),
		CreateIfNotExists: true,
	})
	if err == nil {
		return true, nil
	}
	if IsCasFailed(err) {
		Log.WithError(err).Debug("cas failed")
		return false, nil
	}
	return false, wrapNodeError(fmt.Sprintf("unexpected response from %s", svc), err)
}

// KvFetchAnd implements the generic read-modify-write loop over a remote
// CAS primitive (spec.md §4.5, §9 "RMW over remote CAS"): read the current
// value (defaultValue if absent), apply mutate, CAS old->new, and on
// failure re-read and repeat until the CAS succeeds. After
// maxFetchAndAttempts failed CAS attempts it gives up with a NodeError.
func (n *Node) KvFetchAnd(ctx context.Context, svc string, key any, defaultValue json.RawMessage, mutate func(current json.RawMessage) (json.RawMessage, error)) (json.RawMessage, error) {
	current, err := n.KvRead(ctx, svc, key)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = defaultValue
	}

	next, err := mutate(current)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if attempt >= maxFetchAndAttempts {
			return nil, newNodeError("kv_fetch_and exceeded retry ceiling; this indicates a broken KV double in tests, not real contention")
		}
		ok, err := n.KvCas(ctx, svc, key, current, next)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}

		fresh, err := n.KvRead(ctx, svc, key)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, newNodeError("failed to read after a failed CAS")
		}
		current = fresh
		next, err = mutate(current)
		if err != nil {
			return nil, err
		}
	}
}
