package broadcast_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inflation/vortex/internal/testharness"
	"github.com/inflation/vortex/internal/workload/broadcast"
)

// sortedInts orders int slices before comparison: the seen set has no
// defined iteration order, so a plain cmp.Diff would flag reorderings that
// aren't real mismatches.
var sortedInts = cmpopts.SortSlices(func(a, b int) bool { return a < b })

func TestBroadcast_ReadReturnsEveryMessageSeen(t *testing.T) {
	w := broadcast.New()
	h, node, _ := testharness.New(t, "n1", []string{"n1"}, w.Handle)
	w.Start(node)
	defer w.Stop()

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":1,"type":"broadcast","message":10}}`)
	ackLine := h.ReadLine()
	assert.Contains(t, ackLine, `"broadcast_ok"`)

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":2,"type":"broadcast","message":20}}`)
	ackLine2 := h.ReadLine()
	assert.Contains(t, ackLine2, `"broadcast_ok"`)

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":3,"type":"read"}}`)
	readLine := h.ReadLine()

	var decoded struct {
		Body struct {
			Messages []int `json:"messages"`
		} `json:"body"`
	}
	require.NoError(t, json.Unmarshal([]byte(readLine), &decoded))
	if diff := cmp.Diff([]int{10, 20}, decoded.Body.Messages, sortedInts); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	h.Close()
}

func TestBroadcast_DuplicateMessageDoesNotReappear(t *testing.T) {
	w := broadcast.New()
	h, node, _ := testharness.New(t, "n1", []string{"n1"}, w.Handle)
	w.Start(node)
	defer w.Stop()

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":1,"type":"broadcast","message":5}}`)
	h.ReadLine()
	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":2,"type":"broadcast_batch","messages":[5,6]}}`)
	h.ReadLine()

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":3,"type":"read"}}`)
	readLine := h.ReadLine()

	var decoded struct {
		Body struct {
			Messages []int `json:"messages"`
		} `json:"body"`
	}
	require.NoError(t, json.Unmarshal([]byte(readLine), &decoded))
	if diff := cmp.Diff([]int{5, 6}, decoded.Body.Messages, sortedInts); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	h.Close()
}

func TestBroadcast_TopologySetsPeers(t *testing.T) {
	w := broadcast.New()
	h, node, _ := testharness.New(t, "n1", []string{"n1", "n2"}, w.Handle)
	w.Start(node)
	defer w.Stop()

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":1,"type":"topology","topology":{"n1":["n2"],"n2":["n1"]}}}`)
	line := h.ReadLine()
	assert.Contains(t, line, `"topology_ok"`)
	assert.Equal(t, []string{"n2"}, node.Peers())

	h.Close()
}
