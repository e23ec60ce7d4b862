// Package uniqueid implements the unique-id-generation workload: each
// reply embeds the node's own id and its current message-id counter,
// which are unique per spec.md §4.6 ("Uniqueness follows from per-node
// monotonic msg_id and distinct node_id"). Grounded on
// original_source/src/bin/unique-id.rs.
package uniqueid

import (
	"context"
	"fmt"

	"github.com/inflation/vortex/pkg/vortex"
)

type request struct {
	Type string `json:"type"`
}

type response struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Handler implements vortex.Handler for the unique-id workload.
func Handler(ctx context.Context, n *vortex.Node, msg vortex.Message) error {
	ctx, span := vortex.Tracer().Start(ctx, "uniqueid.Handle")
	defer span.End()

	if _, err := vortex.DecodePayload[request](msg.Body); err != nil {
		return err
	}

	id := n.Reserve()
	return n.Reply(ctx, msg, response{Type: "generate_ok", ID: fmt.Sprintf("%s-%d", n.ID, id)})
}
