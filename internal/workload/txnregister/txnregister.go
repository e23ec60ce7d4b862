// Package txnregister implements a single-node, concurrency-safe
// key-value register driven by lists of read/write ops. Grounded on
// original_source/src/bin/txn-rw-register.rs.
package txnregister

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/inflation/vortex/pkg/vortex"
)

// op is a single ["r"|"w", key, val] entry. val is null for a read
// request and for a read of an absent key; present for a write.
type op struct {
	Kind string
	Key  int64
	Val  *int64
}

func (o op) MarshalJSON() ([]byte, error) {
	var val any
	if o.Val != nil {
		val = *o.Val
	}
	return json.Marshal([3]any{o.Kind, o.Key, val})
}

func (o *op) UnmarshalJSON(data []byte) error {
	var tuple [3]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("txnregister: op is not a 3-tuple: %w", err)
	}
	if err := json.Unmarshal(tuple[0], &o.Kind); err != nil {
		return fmt.Errorf("txnregister: op kind: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &o.Key); err != nil {
		return fmt.Errorf("txnregister: op key: %w", err)
	}
	var val *int64
	if err := json.Unmarshal(tuple[2], &val); err != nil {
		return fmt.Errorf("txnregister: op val: %w", err)
	}
	o.Val = val
	return nil
}

type txnReq struct {
	Type string `json:"type"`
	Txn  []op   `json:"txn"`
}

type txnOk struct {
	Type string `json:"type"`
	Txn  []op   `json:"txn"`
}

// Register is an in-memory key->value map. A single mutex serializes every
// op list, which is stricter than strictly necessary (the spec only
// requires per-key atomicity) but keeps one txn's reads and writes
// consistent with each other without any cross-key atomicity claim.
type Register struct {
	mu    sync.Mutex
	store map[int64]int64
}

// New returns an empty register.
func New() *Register {
	return &Register{store: map[int64]int64{}}
}

// Handler implements vortex.Handler for the txn workload.
func (r *Register) Handler(ctx context.Context, n *vortex.Node, msg vortex.Message) error {
	ctx, span := vortex.Tracer().Start(ctx, "txnregister.Handle")
	defer span.End()

	typ, err := msg.Body.Type()
	if err != nil {
		return err
	}
	if typ != "txn" {
		return vortex.NewUnknownPayloadError(typ)
	}

	req, err := vortex.DecodePayload[txnReq](msg.Body)
	if err != nil {
		return err
	}

	completed := r.apply(req.Txn)
	return n.Reply(ctx, msg, txnOk{Type: "txn_ok", Txn: completed})
}

// apply runs every op in order under a single lock, returning a copy with
// reads filled in from the (possibly just-written) current value.
func (r *Register) apply(txn []op) []op {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]op, len(txn))
	for i, o := range txn {
		switch o.Kind {
		case "r":
			out[i] = op{Kind: "r", Key: o.Key}
			if v, ok := r.store[o.Key]; ok {
				val := v
				out[i].Val = &val
			}
		case "w":
			if o.Val != nil {
				r.store[o.Key] = *o.Val
			}
			out[i] = o
		default:
			out[i] = o
		}
	}
	return out
}
