package vortex

import (
	"encoding/json"
	"fmt"
)

// Message is the wire envelope exchanged with the harness: a source, a
// destination ("dest" on the wire), and a body. It mirrors
// original_source/src/message.rs's Message<P>, except the payload is kept
// as a flattened, untyped JSON object (Body.Payload) until a workload
// decodes it into a concrete Go type — Go has no equivalent of serde's
// #[serde(flatten)], so the flatten/unflatten is implemented by hand in
// Body's MarshalJSON/UnmarshalJSON below.
type Message struct {
	Src  string `json:"src"`
	Dst  string `json:"dest"`
	Body Body   `json:"body"`
}

// Body carries the reserved envelope fields (msg_id, in_reply_to) plus an
// arbitrary flattened payload object discriminated by its "type" field.
type Body struct {
	MsgID     *int
	InReplyTo *int
	Payload   json.RawMessage
}

// reserved body field names that never belong to a payload.
const (
	fieldMsgID     = "msg_id"
	fieldInReplyTo = "in_reply_to"
)

// MarshalJSON merges MsgID/InReplyTo into the payload's flattened object,
// the inverse of UnmarshalJSON.
func (b Body) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(b.Payload) > 0 {
		if err := json.Unmarshal(b.Payload, &fields); err != nil {
			return nil, fmt.Errorf("vortex: payload is not a JSON object: %w", err)
		}
	}
	if b.MsgID != nil {
		raw, err := json.Marshal(*b.MsgID)
		if err != nil {
			return nil, err
		}
		fields[fieldMsgID] = raw
	}
	if b.InReplyTo != nil {
		raw, err := json.Marshal(*b.InReplyTo)
		if err != nil {
			return nil, err
		}
		fields[fieldInReplyTo] = raw
	}
	return json.Marshal(fields)
}

// UnmarshalJSON splits msg_id/in_reply_to out of the wire object, leaving
// the remainder (including "type") as the flattened Payload.
func (b *Body) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	if raw, ok := fields[fieldMsgID]; ok {
		var id int
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("vortex: msg_id is not an integer: %w", err)
		}
		b.MsgID = &id
		delete(fields, fieldMsgID)
	} else {
		b.MsgID = nil
	}

	if raw, ok := fields[fieldInReplyTo]; ok {
		var id int
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("vortex: in_reply_to is not an integer: %w", err)
		}
		b.InReplyTo = &id
		delete(fields, fieldInReplyTo)
	} else {
		b.InReplyTo = nil
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	b.Payload = raw
	return nil
}

// Type returns the payload's "type" discriminator.
func (b Body) Type() (string, error) {
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b.Payload, &tagged); err != nil {
		return "", fmt.Errorf("vortex: failed to read payload type: %w", err)
	}
	if tagged.Type == "" {
		return "", newMessageError("payload carries no type tag")
	}
	return tagged.Type, nil
}

// DecodePayload unmarshals the body's flattened payload into a concrete
// request/response type. T must carry its own `type` field/tag so the
// round trip through Reply/Send is faithful. A decode failure is a
// per-message error (spec.md §7), never fatal.
func DecodePayload[T any](b Body) (T, error) {
	var v T
	if err := json.Unmarshal(b.Payload, &v); err != nil {
		return v, wrapMessageError(fmt.Sprintf("failed to decode payload as %T", v), err)
	}
	return v, nil
}

// newBody builds a Body from a typed payload, flattening it via
// encoding/json the same way MarshalJSON does for the wire form.
func newBody(msgID, inReplyTo *int, payload any) (Body, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Body{}, wrapNodeError(fmt.Sprintf("failed to serialize payload %#v", payload), err)
	}
	return Body{MsgID: msgID, InReplyTo: inReplyTo, Payload: raw}, nil
}

// Init is the harness's init request payload.
type Init struct {
	Type    string   `json:"type"`
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

// InitOk is the reply to Init. It carries only in_reply_to, never msg_id,
// per spec.md §4.3.
type InitOk struct {
	Type string `json:"type"`
}

// NewInitOk constructs the init_ok payload.
func NewInitOk() InitOk { return InitOk{Type: "init_ok"} }
