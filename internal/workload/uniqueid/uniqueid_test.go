package uniqueid_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inflation/vortex/internal/testharness"
	"github.com/inflation/vortex/internal/workload/uniqueid"
)

func TestUniqueID_GeneratesDistinctIDs(t *testing.T) {
	h, _, _ := testharness.New(t, "n1", []string{"n1"}, uniqueid.Handler)

	seen := map[string]bool{}
	const requests = 20
	for i := 0; i < requests; i++ {
		h.Send(fmt.Sprintf(`{"src":"c0","dest":"n1","body":{"msg_id":%d,"type":"generate"}}`, i+1))
	}
	for i := 0; i < requests; i++ {
		line := h.ReadLine()
		assert.Contains(t, line, `"generate_ok"`)
		var decoded struct {
			Body struct {
				ID string `json:"id"`
			} `json:"body"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &decoded))
		assert.False(t, seen[decoded.Body.ID], "id %q must be unique", decoded.Body.ID)
		seen[decoded.Body.ID] = true
	}

	h.Close()
}
