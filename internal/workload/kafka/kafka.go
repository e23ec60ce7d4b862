// Package kafka implements a Kafka-style replicated log over lin-kv: per
// key, a {logs, offset, committed_offset} state is threaded through a
// read-modify-write loop on the remote CAS primitive for send and commit,
// and polled directly for reads (spec.md §4.6). Grounded on
// original_source/src/bin/kafka.rs.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/inflation/vortex/pkg/vortex"
)

const service = "lin-kv"

type sendReq struct {
	Type string `json:"type"`
	Key  string `json:"key"`
	Msg  int64  `json:"msg"`
}

type sendOk struct {
	Type   string `json:"type"`
	Offset int64  `json:"offset"`
}

type pollReq struct {
	Type    string           `json:"type"`
	Offsets map[string]int64 `json:"offsets"`
}

// logEntry is encoded as a [offset, message] tuple on the wire, matching
// original_source/src/bin/kafka.rs's Log (serde_tuple).
type logEntry struct {
	Offset  int64
	Message int64
}

func (e logEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{e.Offset, e.Message})
}

func (e *logEntry) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	e.Offset, e.Message = pair[0], pair[1]
	return nil
}

type pollOk struct {
	Type string                `json:"type"`
	Msgs map[string][]logEntry `json:"msgs"`
}

type commitOffsetsReq struct {
	Type    string           `json:"type"`
	Offsets map[string]int64 `json:"offsets"`
}

type commitOffsetsOk struct {
	Type string `json:"type"`
}

type listCommittedOffsetsReq struct {
	Type string   `json:"type"`
	Keys []string `json:"keys"`
}

type listCommittedOffsetsOk struct {
	Type    string           `json:"type"`
	Offsets map[string]int64 `json:"offsets"`
}

// logState is the per-key persisted state in lin-kv.
type logState struct {
	Logs            map[string]int64 `json:"logs"` // offset (as decimal string) -> message
	Offset          int64            `json:"offset"`
	CommittedOffset int64            `json:"committed_offset"`
}

var defaultState = json.RawMessage(`{"logs":{},"offset":0,"committed_offset":0}`)

// Handler implements vortex.Handler for the kafka workload.
func Handler(ctx context.Context, n *vortex.Node, msg vortex.Message) error {
	ctx, span := vortex.Tracer().Start(ctx, "kafka.Handle")
	defer span.End()

	typ, err := msg.Body.Type()
	if err != nil {
		return err
	}

	switch typ {
	case "send":
		req, err := vortex.DecodePayload[sendReq](msg.Body)
		if err != nil {
			return err
		}
		offset, err := handleSend(ctx, n, req.Key, req.Msg)
		if err != nil {
			return err
		}
		return n.Reply(ctx, msg, sendOk{Type: "send_ok", Offset: offset})

	case "poll":
		req, err := vortex.DecodePayload[pollReq](msg.Body)
		if err != nil {
			return err
		}
		msgs, err := handlePoll(ctx, n, req.Offsets)
		if err != nil {
			return err
		}
		return n.Reply(ctx, msg, pollOk{Type: "poll_ok", Msgs: msgs})

	case "commit_offsets":
		req, err := vortex.DecodePayload[commitOffsetsReq](msg.Body)
		if err != nil {
			return err
		}
		if err := handleCommit(ctx, n, req.Offsets); err != nil {
			return err
		}
		return n.Reply(ctx, msg, commitOffsetsOk{Type: "commit_offsets_ok"})

	case "list_committed_offsets":
		req, err := vortex.DecodePayload[listCommittedOffsetsReq](msg.Body)
		if err != nil {
			return err
		}
		offsets, err := handleListCommitted(ctx, n, req.Keys)
		if err != nil {
			return err
		}
		return n.Reply(ctx, msg, listCommittedOffsetsOk{Type: "list_committed_offsets_ok", Offsets: offsets})

	default:
		return vortex.NewUnknownPayloadError(typ)
	}
}

func readState(ctx context.Context, n *vortex.Node, key string) (logState, bool, error) {
	raw, err := n.KvRead(ctx, service, key)
	if err != nil {
		return logState{}, false, err
	}
	if raw == nil {
		return logState{Logs: map[string]int64{}}, false, nil
	}
	var s logState
	if err := json.Unmarshal(raw, &s); err != nil {
		return logState{}, false, fmt.Errorf("kafka: corrupt log state for %q: %w", key, err)
	}
	if s.Logs == nil {
		s.Logs = map[string]int64{}
	}
	return s, true, nil
}

// handleSend bumps offset exactly once per successful CAS attempt, before
// inserting into logs, recomputing from the freshly read state on each
// retry. This is the only ordering under which "offsets 1..N, no gaps or
// repeats" holds across CAS retries (spec.md §9, DESIGN.md).
func handleSend(ctx context.Context, n *vortex.Node, key string, message int64) (int64, error) {
	var assigned int64
	_, err := n.KvFetchAnd(ctx, service, key, defaultState, func(current json.RawMessage) (json.RawMessage, error) {
		var s logState
		if err := json.Unmarshal(current, &s); err != nil {
			return nil, fmt.Errorf("kafka: corrupt log state for %q: %w", key, err)
		}
		if s.Logs == nil {
			s.Logs = map[string]int64{}
		}
		s.Offset++
		assigned = s.Offset
		s.Logs[fmt.Sprint(s.Offset)] = message
		return json.Marshal(s)
	})
	return assigned, err
}

func handlePoll(ctx context.Context, n *vortex.Node, offsets map[string]int64) (map[string][]logEntry, error) {
	out := map[string][]logEntry{}
	for key, from := range offsets {
		state, ok, err := readState(ctx, n, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		entries := make([]logEntry, 0, len(state.Logs))
		for offsetStr, message := range state.Logs {
			var offset int64
			if _, err := fmt.Sscan(offsetStr, &offset); err != nil {
				return nil, fmt.Errorf("kafka: corrupt log offset %q: %w", offsetStr, err)
			}
			if offset >= from {
				entries = append(entries, logEntry{Offset: offset, Message: message})
			}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })
		out[key] = entries
	}
	return out, nil
}

// handleCommit sets committed_offset := max(current, requested); commits
// never regress (spec.md §4.6, §8).
func handleCommit(ctx context.Context, n *vortex.Node, offsets map[string]int64) error {
	for key, target := range offsets {
		_, err := n.KvFetchAnd(ctx, service, key, defaultState, func(current json.RawMessage) (json.RawMessage, error) {
			var s logState
			if err := json.Unmarshal(current, &s); err != nil {
				return nil, fmt.Errorf("kafka: corrupt log state for %q: %w", key, err)
			}
			if s.Logs == nil {
				s.Logs = map[string]int64{}
			}
			if target > s.CommittedOffset {
				s.CommittedOffset = target
			}
			return json.Marshal(s)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func handleListCommitted(ctx context.Context, n *vortex.Node, keys []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, key := range keys {
		state, ok, err := readState(ctx, n, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out[key] = state.CommittedOffset
	}
	return out, nil
}
