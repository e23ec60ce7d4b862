package txnregister_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inflation/vortex/internal/testharness"
	"github.com/inflation/vortex/internal/workload/txnregister"
)

func TestTxnRegister_WriteThenReadInSameTxn(t *testing.T) {
	r := txnregister.New()
	h, _, _ := testharness.New(t, "n1", []string{"n1"}, r.Handler)

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":1,"type":"txn","txn":[["w",1,5],["r",1,null],["r",2,null]]}}`)
	line := h.ReadLine()

	assert.Contains(t, line, `"txn_ok"`)
	assert.Contains(t, line, `["w",1,5]`)
	assert.Contains(t, line, `["r",1,5]`)
	assert.Contains(t, line, `["r",2,null]`)

	h.Close()
}

func TestTxnRegister_WritesPersistAcrossTxns(t *testing.T) {
	r := txnregister.New()
	h, _, _ := testharness.New(t, "n1", []string{"n1"}, r.Handler)

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":1,"type":"txn","txn":[["w",9,1]]}}`)
	h.ReadLine()

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":2,"type":"txn","txn":[["r",9,null]]}}`)
	line := h.ReadLine()
	assert.Contains(t, line, `["r",9,1]`)

	h.Close()
}
