package vortex

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(id string) *Node {
	return &Node{
		ID:        id,
		out:       make(chan Message, queueCapacity),
		in:        make(chan Message, queueCapacity),
		writerErr: make(chan error, 1),
	}
}

func TestRpc_DeliversAckedValue(t *testing.T) {
	n := newTestNode("n1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resultCh := make(chan struct {
		value json.RawMessage
		err   error
	}, 1)
	go func() {
		value, err := n.Rpc(ctx, "n2", struct {
			Type string `json:"type"`
		}{Type: "read"})
		resultCh <- struct {
			value json.RawMessage
			err   error
		}{value, err}
	}()

	req := <-n.out
	require.NotNil(t, req.Body.MsgID)

	replyID := 99
	body, err := newBody(&replyID, req.Body.MsgID, struct {
		Type  string `json:"type"`
		Value int    `json:"value"`
	}{Type: "read_ok", Value: 42})
	require.NoError(t, err)
	reply := Message{Src: "n2", Dst: "n1", Body: body}

	require.NoError(t, n.Ack(reply, reply.Body.Payload, nil))

	res := <-resultCh
	require.NoError(t, res.err)
	var decoded struct {
		Value int `json:"value"`
	}
	require.NoError(t, json.Unmarshal(res.value, &decoded))
	assert.Equal(t, 42, decoded.Value)
}

func TestRpc_RetriesSameEnvelopeOnTimeout(t *testing.T) {
	n := newTestNode("n1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		_, _ = n.Rpc(ctx, "n2", struct {
			Type string `json:"type"`
		}{Type: "read"})
	}()

	first := <-n.out
	second := <-n.out
	require.NotNil(t, first.Body.MsgID)
	require.NotNil(t, second.Body.MsgID)
	assert.Equal(t, *first.Body.MsgID, *second.Body.MsgID, "retry must re-send the same msg_id")
}

func TestAck_UnknownCorrelationIsNoop(t *testing.T) {
	n := newTestNode("n1")
	inReplyTo := 123
	body, err := newBody(nil, &inReplyTo, struct {
		Type string `json:"type"`
	}{Type: "read_ok"})
	require.NoError(t, err)
	msg := Message{Src: "n2", Dst: "n1", Body: body}

	assert.NoError(t, n.Ack(msg, nil, nil))
	assert.NoError(t, n.Ack(msg, nil, nil), "a second ack for the same correlation must also be a no-op")
}

func TestAck_NoInReplyToIsMessageError(t *testing.T) {
	n := newTestNode("n1")
	body, err := newBody(nil, nil, struct {
		Type string `json:"type"`
	}{Type: "read_ok"})
	require.NoError(t, err)
	msg := Message{Src: "n2", Dst: "n1", Body: body}

	err = n.Ack(msg, nil, nil)
	require.Error(t, err)
	assert.True(t, IsMessageError(err))
}

func TestReserve_NeverReturnsTheSameValueTwice(t *testing.T) {
	n := newTestNode("n1")
	seen := make(map[int]bool)
	for i := 0; i < 100; i++ {
		id := n.Reserve()
		require.False(t, seen[id], "Reserve must not repeat a value")
		seen[id] = true
	}
}
