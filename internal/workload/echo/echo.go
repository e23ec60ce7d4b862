// Package echo implements the trivial echo workload: reply with exactly
// the string the client sent. Grounded on
// original_source/src/bin/echo.rs.
package echo

import (
	"context"

	"github.com/inflation/vortex/pkg/vortex"
)

type request struct {
	Type string `json:"type"`
	Echo string `json:"echo"`
}

type response struct {
	Type string `json:"type"`
	Echo string `json:"echo"`
}

// Handler implements vortex.Handler for the echo workload.
func Handler(ctx context.Context, n *vortex.Node, msg vortex.Message) error {
	ctx, span := vortex.Tracer().Start(ctx, "echo.Handle")
	defer span.End()

	req, err := vortex.DecodePayload[request](msg.Body)
	if err != nil {
		return err
	}
	return n.Reply(ctx, msg, response{Type: "echo_ok", Echo: req.Echo})
}
