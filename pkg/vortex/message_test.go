package vortex

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyRoundTrip_WithMsgIDAndInReplyTo(t *testing.T) {
	msgID := 7
	inReplyTo := 3
	body, err := newBody(&msgID, &inReplyTo, struct {
		Type string `json:"type"`
		Echo string `json:"echo"`
	}{Type: "echo_ok", Echo: "hello"})
	require.NoError(t, err)

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	var roundTripped Body
	require.NoError(t, json.Unmarshal(raw, &roundTripped))

	require.NotNil(t, roundTripped.MsgID)
	require.NotNil(t, roundTripped.InReplyTo)
	assert.Equal(t, 7, *roundTripped.MsgID)
	assert.Equal(t, 3, *roundTripped.InReplyTo)

	typ, err := roundTripped.Type()
	require.NoError(t, err)
	assert.Equal(t, "echo_ok", typ)
}

func TestBodyUnmarshal_NoMsgIDOrInReplyTo(t *testing.T) {
	var body Body
	require.NoError(t, json.Unmarshal([]byte(`{"type":"init_ok"}`), &body))
	assert.Nil(t, body.MsgID)
	assert.Nil(t, body.InReplyTo)
}

func TestBodyType_MissingTagIsMessageError(t *testing.T) {
	var body Body
	require.NoError(t, json.Unmarshal([]byte(`{"echo":"x"}`), &body))
	_, err := body.Type()
	require.Error(t, err)
	assert.True(t, IsMessageError(err))
}

func TestDecodePayload_MalformedIsMessageError(t *testing.T) {
	body := Body{Payload: json.RawMessage(`{"type":"echo","echo":123}`)}
	type request struct {
		Type string `json:"type"`
		Echo string `json:"echo"`
	}
	_, err := DecodePayload[request](body)
	require.Error(t, err)
	assert.True(t, IsMessageError(err))
}

func TestMessageRoundTrip(t *testing.T) {
	id := 1
	body, err := newBody(&id, nil, struct {
		Type string `json:"type"`
	}{Type: "init"})
	require.NoError(t, err)
	msg := Message{Src: "c1", Dst: "n1", Body: body}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "c1", decoded.Src)
	assert.Equal(t, "n1", decoded.Dst)
	typ, err := decoded.Body.Type()
	require.NoError(t, err)
	assert.Equal(t, "init", typ)
}
