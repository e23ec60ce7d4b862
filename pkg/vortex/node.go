package vortex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// queueCapacity bounds the inbound and outbound channels, per spec.md
	// §4.2 ("bounded in/out queues... capacity ~8").
	queueCapacity = 8
	// rpcRetryInterval is the fixed retry period for unacked RPCs, within
	// spec.md §4.4's 300-1000ms implementation-chosen range.
	rpcRetryInterval = 500 * time.Millisecond
)

// rpcOutcome is the one-shot delivery slot payload for a pending RPC.
type rpcOutcome struct {
	value json.RawMessage
	err   error
}

// Node is the runtime shared by every workload: identity, the outbound
// msg_id counter, the peer directory, the pending-reply correlation table,
// and the stdio transport. It is the Go realization of
// original_source/src/node.rs's Node, restructured around the promise/
// correlation pattern in dcrodman-franz-go/pkg/kgo/broker.go (promisedReq/
// promisedResp/handleReqs) since Go has goroutines and channels instead of
// an async runtime.
type Node struct {
	ID      string
	NodeIDs []string

	msgID atomic.Uint64

	peersMu sync.RWMutex
	peers   []string

	pending sync.Map // correlation key -> chan rpcOutcome

	out chan Message
	in  chan Message

	writerErr chan error
}

// correlationKey identifies a pending RPC by (peer, original msg_id);
// msg_id is only unique per-sender, so the peer must be part of the key
// (spec.md §4.4).
func correlationKey(peer string, msgID int) string {
	return fmt.Sprintf("%s\x00%d", peer, msgID)
}

// NewNode performs the one-shot init handshake (spec.md §4.3): it reads
// exactly one line from stdin, replies init_ok directly, and only then
// spawns the steady-state reader/writer goroutines.
func NewNode(stdin io.Reader, stdout io.Writer) (*Node, error) {
	br := bufio.NewReader(stdin)
	line, err := readLine(br)
	if err != nil {
		return nil, wrapNodeError("failed to read init message", err)
	}

	var initMsg Message
	if err := json.Unmarshal(line, &initMsg); err != nil {
		return nil, wrapNodeError("failed to parse init message", err)
	}
	init, err := DecodePayload[Init](initMsg.Body)
	if err != nil {
		return nil, wrapNodeError("failed to decode init payload", err)
	}

	n := &Node{
		ID:        init.NodeID,
		NodeIDs:   init.NodeIDs,
		out:       make(chan Message, queueCapacity),
		in:        make(chan Message, queueCapacity),
		writerErr: make(chan error, 1),
	}

	initOkBody, err := newBody(nil, initMsg.Body.MsgID, NewInitOk())
	if err != nil {
		return nil, wrapNodeError("failed to build init_ok", err)
	}
	reply := Message{Src: init.NodeID, Dst: initMsg.Src, Body: initOkBody}
	raw, err := json.Marshal(reply)
	if err != nil {
		return nil, wrapNodeError("failed to serialize init_ok", err)
	}
	if _, err := stdout.Write(append(raw, '\n')); err != nil {
		return nil, wrapNodeError("failed to write init_ok to stdout", err)
	}

	go func() {
		if err := readStdin(br, n.in); err != nil {
			Log.WithError(err).Error("stdin reader stopped with error")
		}
		close(n.in)
	}()
	go func() {
		if err := writeStdout(stdout, n.out); err != nil {
			select {
			case n.writerErr <- err:
			default:
			}
		}
	}()

	Log.WithFields(map[string]any{"node_id": n.ID, "peers": init.NodeIDs}).Info("node initialized")
	return n, nil
}

// Inbound returns the channel of messages arriving from the harness. It is
// closed when stdin reaches EOF.
func (n *Node) Inbound() <-chan Message { return n.in }

// WriterErr returns the channel on which a fatal stdout write failure is
// reported (spec.md §7).
func (n *Node) WriterErr() <-chan error { return n.writerErr }

// SetPeers replaces the peer directory, used by the broadcast workload's
// topology handler.
func (n *Node) SetPeers(peers []string) {
	n.peersMu.Lock()
	n.peers = append([]string(nil), peers...)
	n.peersMu.Unlock()
}

// Peers returns a snapshot of the current peer directory.
func (n *Node) Peers() []string {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	return append([]string(nil), n.peers...)
}

func (n *Node) nextMsgID() int {
	return int(n.msgID.Add(1))
}

// Reserve allocates and returns a fresh value from the same monotonic
// counter that stamps every outbound msg_id, without sending anything.
// The unique-id workload uses this to mint ids that are guaranteed
// distinct even when handlers run concurrently (spec.md §4.6 relies on
// "per-node monotonic msg_id"; reading the counter without reserving a
// tick would race two concurrent Generate handlers onto the same value).
func (n *Node) Reserve() int {
	return n.nextMsgID()
}

func (n *Node) enqueue(ctx context.Context, msg Message) error {
	select {
	case n.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send originates a new request with no expectation of a correlated reply
// (fire-and-forget).
func (n *Node) Send(ctx context.Context, peer string, payload any) error {
	id := n.nextMsgID()
	body, err := newBody(&id, nil, payload)
	if err != nil {
		return err
	}
	return n.enqueue(ctx, Message{Src: n.ID, Dst: peer, Body: body})
}

// Reply answers an inbound request, swapping src/dst and setting
// in_reply_to to the request's own msg_id.
func (n *Node) Reply(ctx context.Context, req Message, payload any) error {
	id := n.nextMsgID()
	body, err := newBody(&id, req.Body.MsgID, payload)
	if err != nil {
		return err
	}
	return n.enqueue(ctx, Message{Src: req.Dst, Dst: req.Src, Body: body})
}

// Rpc originates a request and blocks until a correlated reply arrives,
// retrying the *same* envelope (same msg_id) on a fixed timer so that a
// late first-attempt reply still resolves the pending slot (spec.md
// §4.4). Returns the decoded payload's raw JSON on success, or the
// translated RpcError/NodeError on failure.
func (n *Node) Rpc(ctx context.Context, peer string, payload any) (json.RawMessage, error) {
	ctx, span := Tracer().Start(ctx, "vortex.Node.Rpc")
	defer span.End()
	span.SetAttributes(attribute.String("vortex.peer", peer))

	id := n.nextMsgID()
	body, err := newBody(&id, nil, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	msg := Message{Src: n.ID, Dst: peer, Body: body}

	outcome := make(chan rpcOutcome, 1)
	key := correlationKey(peer, id)
	n.pending.Store(key, outcome)
	defer n.pending.Delete(key)

	if err := n.enqueue(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ticker := time.NewTicker(rpcRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, ctx.Err().Error())
			return nil, ctx.Err()
		case <-ticker.C:
			if err := n.enqueue(ctx, msg); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		case res := <-outcome:
			if res.err != nil {
				span.RecordError(res.err)
				span.SetStatus(codes.Error, res.err.Error())
				return nil, res.err
			}
			return res.value, nil
		}
	}
}

// Ack delivers a reply to its waiting RPC caller. It consults the
// correlation table using (incoming.Src, incoming.Body.InReplyTo); if a
// slot exists it is fulfilled and removed exactly once, otherwise the ack
// is a logged no-op (spec.md invariant 3 — acks are idempotent).
func (n *Node) Ack(msg Message, value json.RawMessage, rpcErr error) error {
	if msg.Body.InReplyTo == nil {
		return newMessageError("incoming reply with no in_reply_to")
	}
	key := correlationKey(msg.Src, *msg.Body.InReplyTo)
	v, ok := n.pending.LoadAndDelete(key)
	if !ok {
		Log.WithFields(map[string]any{"src": msg.Src, "in_reply_to": *msg.Body.InReplyTo}).
			Debug("ack for unknown or already-fulfilled correlation, ignoring")
		return nil
	}
	outcome := v.(chan rpcOutcome)
	select {
	case outcome <- rpcOutcome{value: value, err: rpcErr}:
	default:
		// Slot already fulfilled or abandoned; duplicate delivery is a no-op.
	}
	return nil
}
