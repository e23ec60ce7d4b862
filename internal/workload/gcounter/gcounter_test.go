package gcounter_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inflation/vortex/internal/testharness"
	"github.com/inflation/vortex/internal/workload/gcounter"
)

func TestGCounter_AddThenReadReflectsTotal(t *testing.T) {
	h, _, _ := testharness.New(t, "n1", []string{"n1"}, gcounter.Handler)
	h.WithKVStub("seq-kv")

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":1,"type":"add","delta":3}}`)
	assert.Contains(t, h.ReadLine(), `"add_ok"`)

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":2,"type":"add","delta":4}}`)
	assert.Contains(t, h.ReadLine(), `"add_ok"`)

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":3,"type":"read"}}`)
	line := h.ReadLine()

	var decoded struct {
		Body struct {
			Value uint64 `json:"value"`
		} `json:"body"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, uint64(7), decoded.Body.Value)

	h.Close()
}

func TestGCounter_ReadWithNoContributionsIsZero(t *testing.T) {
	h, _, _ := testharness.New(t, "n1", []string{"n1", "n2"}, gcounter.Handler)
	h.WithKVStub("seq-kv")

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":1,"type":"read"}}`)
	line := h.ReadLine()

	var decoded struct {
		Body struct {
			Value uint64 `json:"value"`
		} `json:"body"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, uint64(0), decoded.Body.Value)

	h.Close()
}
