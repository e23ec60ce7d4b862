package vortex

import (
	"context"
	"io"
)

// Handler processes one inbound workload request. Replies to the harness
// go through n.Reply/n.Send/n.Rpc from inside Handle. A returned
// MessageError is logged and the message dropped; any other returned error
// is treated as fatal (spec.md §7) and surfaced as Serve's (and Run's)
// return value.
type Handler func(ctx context.Context, n *Node, msg Message) error

// knownKVServices names the external KV peers whose replies are routed
// through the generic ack path rather than a workload's Handler (spec.md
// §4.6, §6).
var knownKVServices = map[string]bool{
	"seq-kv": true,
	"lin-kv": true,
}

// Run wires up a Node against stdin/stdout, then receives inbound
// messages forever, spawning one goroutine per message (spec.md §2, §5).
// KV-peer replies and any message answering a prior RPC are routed
// through the generic ack path; everything else is dispatched to handler.
// Run returns when stdin reaches EOF (nil error) or a fatal error occurs
// on the writer or inside a handler (spec.md §7).
func Run(stdin io.Reader, stdout io.Writer, handler Handler) error {
	node, err := NewNode(stdin, stdout)
	if err != nil {
		return err
	}
	return node.Serve(handler)
}

// Serve runs the receive loop against an already-constructed Node. Use
// this directly (instead of Run) when a workload needs the Node before
// the loop starts, e.g. to launch a background task such as broadcast's
// periodic gossip flusher.
func (n *Node) Serve(handler Handler) error {
	ctx := context.Background()
	fatal := make(chan error, 1)

	for {
		select {
		case msg, ok := <-n.Inbound():
			if !ok {
				return nil
			}
			go n.dispatch(ctx, msg, handler, fatal)
		case err := <-n.WriterErr():
			return err
		case err := <-fatal:
			return err
		}
	}
}

func (n *Node) dispatch(ctx context.Context, msg Message, handler Handler, fatal chan<- error) {
	var err error
	switch {
	case knownKVServices[msg.Src]:
		err = n.HandleKV(msg)
	case msg.Body.InReplyTo != nil:
		err = n.Ack(msg, msg.Body.Payload, nil)
	default:
		err = handler(ctx, n, msg)
	}
	if err == nil {
		return
	}
	if IsMessageError(err) {
		Log.WithError(err).WithField("src", msg.Src).Warn("dropping malformed or unrecognized message")
		return
	}
	Log.WithError(err).WithField("src", msg.Src).Error("fatal handler error")
	select {
	case fatal <- err:
	default:
	}
}
