// Package gcounter implements a grow-only counter over seq-kv: each node
// owns its own contribution under its node id, and read sums every peer's
// key after writing a throwaway barrier key to force a happens-before
// edge against concurrent writers on the sequentially consistent store
// (spec.md §4.6). Grounded on original_source/src/bin/g-counter.rs.
package gcounter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/inflation/vortex/pkg/vortex"
)

const service = "seq-kv"

type addReq struct {
	Type  string `json:"type"`
	Delta uint64 `json:"delta"`
}

type addOk struct {
	Type string `json:"type"`
}

type readReq struct {
	Type string `json:"type"`
}

type readOk struct {
	Type  string `json:"type"`
	Value uint64 `json:"value"`
}

// Handler implements vortex.Handler for the g-counter workload.
func Handler(ctx context.Context, n *vortex.Node, msg vortex.Message) error {
	ctx, span := vortex.Tracer().Start(ctx, "gcounter.Handle")
	defer span.End()

	typ, err := msg.Body.Type()
	if err != nil {
		return err
	}

	switch typ {
	case "add":
		req, err := vortex.DecodePayload[addReq](msg.Body)
		if err != nil {
			return err
		}
		if err := handleAdd(ctx, n, req.Delta); err != nil {
			return err
		}
		return n.Reply(ctx, msg, addOk{Type: "add_ok"})

	case "read":
		if _, err := vortex.DecodePayload[readReq](msg.Body); err != nil {
			return err
		}
		value, err := handleRead(ctx, n)
		if err != nil {
			return err
		}
		return n.Reply(ctx, msg, readOk{Type: "read_ok", Value: value})

	default:
		return vortex.NewUnknownPayloadError(typ)
	}
}

// handleAdd adds delta to this node's own key. Using a per-node key avoids
// contention between nodes; a single-key CAS loop across all nodes would
// also be correct but unnecessarily serializes unrelated writers
// (spec.md §4.6).
func handleAdd(ctx context.Context, n *vortex.Node, delta uint64) error {
	_, err := n.KvFetchAnd(ctx, service, n.ID, json.RawMessage("0"), func(current json.RawMessage) (json.RawMessage, error) {
		var value uint64
		if err := json.Unmarshal(current, &value); err != nil {
			return nil, fmt.Errorf("gcounter: corrupt counter value %q: %w", current, err)
		}
		raw, err := json.Marshal(value + delta)
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
	return err
}

// handleRead writes a throwaway barrier key before reading every peer's
// contribution. Without the barrier, a sequentially consistent store may
// still serve a stale read of this node's own just-written key
// (spec.md §4.6 — "the critical correctness mechanism").
func handleRead(ctx context.Context, n *vortex.Node) (uint64, error) {
	barrierKey := "barrier:" + uuid.NewString()
	if err := n.KvWrite(ctx, service, barrierKey, 0); err != nil {
		return 0, err
	}

	var total uint64
	for _, id := range n.NodeIDs {
		raw, err := n.KvRead(ctx, service, id)
		if err != nil {
			return 0, err
		}
		if raw == nil {
			continue // this node has not contributed yet; its value is 0
		}
		var value uint64
		if err := json.Unmarshal(raw, &value); err != nil {
			return 0, fmt.Errorf("gcounter: corrupt counter value for %s: %w", id, err)
		}
		total += value
	}
	return total, nil
}
