// Package testharness drives a vortex.Node end to end over in-memory pipes,
// the way the real harness drives a node over stdio, so workload tests can
// exercise the full init-handshake/Serve/reply path instead of calling
// handlers in isolation. It also offers an in-memory KV stub so workloads
// that call seq-kv/lin-kv can be exercised without a real cluster.
package testharness

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inflation/vortex/pkg/vortex"
)

const (
	kvCodeKeyNotFound = 20
	kvCodeCasFailed   = 22
)

// Harness wraps a running Node plus the pipe ends a test uses to send
// request lines and read reply lines addressed back to the test client.
// Lines addressed to a registered KV stub are answered automatically and
// never surfaced through ReadLine.
type Harness struct {
	t      *testing.T
	stdin  *io.PipeWriter
	out    chan string

	kvMu  sync.Mutex
	kv    map[string]map[string]json.RawMessage // service -> key -> value
}

type envelope struct {
	Src  string          `json:"src"`
	Dst  string          `json:"dest"`
	Body json.RawMessage `json:"body"`
}

// New performs the init handshake over in-memory pipes, then starts Serve
// against handler on a background goroutine. The returned channel receives
// Serve's return value (nil on clean shutdown) once the test closes the
// harness.
func New(t *testing.T, nodeID string, peerIDs []string, handler vortex.Handler) (*Harness, *vortex.Node, <-chan error) {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	nodeCh := make(chan *vortex.Node, 1)
	initErrCh := make(chan error, 1)
	go func() {
		node, err := vortex.NewNode(stdinR, stdoutW)
		if err != nil {
			initErrCh <- err
			return
		}
		nodeCh <- node
	}()

	h := &Harness{t: t, stdin: stdinW, out: make(chan string, 64), kv: map[string]map[string]json.RawMessage{}}

	rawOut := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(stdoutR)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			rawOut <- scanner.Text()
		}
		close(rawOut)
	}()

	go func() {
		_, err := stdinW.Write([]byte(`{"src":"c0","dest":"` + nodeID + `","body":{"msg_id":0,"type":"init","node_id":"` +
			nodeID + `","node_ids":` + idsJSON(peerIDs) + `}}` + "\n"))
		if err != nil {
			initErrCh <- err
		}
	}()

	initOkLine := <-rawOut
	require.Contains(t, initOkLine, "init_ok")

	var node *vortex.Node
	select {
	case node = <-nodeCh:
	case err := <-initErrCh:
		t.Fatalf("init handshake failed: %v", err)
	}

	go h.mux(rawOut)

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- node.Serve(handler)
	}()

	return h, node, serveErrCh
}

// mux routes every outbound line either to a registered KV stub (answered
// in place) or to the out channel, where the test's ReadLine consumes it.
func (h *Harness) mux(rawOut <-chan string) {
	for line := range rawOut {
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			h.out <- line
			continue
		}
		h.kvMu.Lock()
		_, isKV := h.kv[env.Dst]
		h.kvMu.Unlock()
		if isKV {
			h.answerKV(env)
			continue
		}
		h.out <- line
	}
	close(h.out)
}

// WithKVStub registers an in-memory KV service under the given name
// (e.g. "seq-kv", "lin-kv"); every request the node sends to it is answered
// automatically with read/write/cas semantics.
func (h *Harness) WithKVStub(service string) {
	h.kvMu.Lock()
	defer h.kvMu.Unlock()
	h.kv[service] = map[string]json.RawMessage{}
}

func (h *Harness) answerKV(env envelope) {
	var body struct {
		MsgID             *int            `json:"msg_id"`
		Type              string          `json:"type"`
		Key               json.RawMessage `json:"key"`
		Value             json.RawMessage `json:"value"`
		From              json.RawMessage `json:"from"`
		To                json.RawMessage `json:"to"`
		CreateIfNotExists bool            `json:"create_if_not_exists"`
	}
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return
	}

	h.kvMu.Lock()
	store := h.kv[env.Dst]
	var reply map[string]any
	switch body.Type {
	case "read":
		if v, ok := store[string(body.Key)]; ok {
			reply = map[string]any{"type": "read_ok", "value": v}
		} else {
			reply = map[string]any{"type": "error", "code": kvCodeKeyNotFound, "text": "not found"}
		}
	case "write":
		store[string(body.Key)] = body.Value
		reply = map[string]any{"type": "write_ok"}
	case "cas":
		current, ok := store[string(body.Key)]
		switch {
		case !ok && body.CreateIfNotExists:
			store[string(body.Key)] = body.To
			reply = map[string]any{"type": "cas_ok"}
		case !ok:
			reply = map[string]any{"type": "error", "code": kvCodeKeyNotFound, "text": "not found"}
		case string(current) == string(body.From):
			store[string(body.Key)] = body.To
			reply = map[string]any{"type": "cas_ok"}
		default:
			reply = map[string]any{"type": "error", "code": kvCodeCasFailed, "text": "cas mismatch"}
		}
	default:
		reply = map[string]any{"type": "error", "code": -1, "text": "unrecognized kv request"}
	}
	h.kvMu.Unlock()

	if body.MsgID != nil {
		reply["in_reply_to"] = *body.MsgID
	}
	replyBody, err := json.Marshal(reply)
	if err != nil {
		return
	}
	out := envelope{Src: env.Dst, Dst: env.Src, Body: replyBody}
	raw, err := json.Marshal(out)
	if err != nil {
		return
	}
	h.stdin.Write(append(raw, '\n'))
}

// Send writes one raw JSON line (without trailing newline) to the node's
// simulated stdin.
func (h *Harness) Send(line string) {
	h.t.Helper()
	_, err := h.stdin.Write([]byte(line + "\n"))
	require.NoError(h.t, err)
}

// ReadLine blocks for the node's next stdout line addressed back to the
// test client (KV-stub traffic is intercepted and never surfaced here).
func (h *Harness) ReadLine() string {
	h.t.Helper()
	line, ok := <-h.out
	require.True(h.t, ok, "node closed its output before replying")
	return line
}

// Close closes the simulated stdin, causing Serve to return on EOF.
func (h *Harness) Close() {
	_ = h.stdin.Close()
}

func idsJSON(ids []string) string {
	out := "["
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += `"` + id + `"`
	}
	return out + "]"
}
