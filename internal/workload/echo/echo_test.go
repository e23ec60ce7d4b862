package echo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inflation/vortex/internal/testharness"
	"github.com/inflation/vortex/internal/workload/echo"
)

func TestEcho_RepliesWithSameString(t *testing.T) {
	h, _, errCh := testharness.New(t, "n1", []string{"n1"}, echo.Handler)

	h.Send(`{"src":"c0","dest":"n1","body":{"msg_id":1,"type":"echo","echo":"please pong"}}`)
	line := h.ReadLine()
	assert.Contains(t, line, `"echo_ok"`)
	assert.Contains(t, line, `"please pong"`)
	assert.Contains(t, line, `"in_reply_to":1`)

	h.Close()
	assert.NoError(t, <-errCh)
}
