package vortex

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// readStdin reads newline-delimited JSON envelopes from r and forwards
// them to out. A line that fails to parse is logged and skipped — the
// harness is trusted to frame correctly, but an unrecognized message
// shape must never crash the node (spec.md §4.2). readStdin returns when
// r reaches EOF or reading from r fails; each send on out blocks until it
// is received.
func readStdin(r io.Reader, out chan<- Message) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			Log.WithError(err).WithField("line", string(line)).Warn("failed to parse inbound message")
			continue
		}
		out <- msg
	}
	return scanner.Err()
}

// writeStdout drains in and writes each envelope as one JSON line. Writer
// failures are fatal (spec.md §4.2): a write failure means the harness can
// no longer observe this node, so there is nothing useful left to do.
func writeStdout(w io.Writer, in <-chan Message) error {
	bw := bufio.NewWriter(w)
	for msg := range in {
		raw, err := json.Marshal(msg)
		if err != nil {
			return wrapNodeError("failed to serialize outbound message", err)
		}
		if _, err := bw.Write(raw); err != nil {
			return wrapNodeError("failed to write outbound message", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return wrapNodeError("failed to write outbound message", err)
		}
		if err := bw.Flush(); err != nil {
			return wrapNodeError("failed to flush outbound message", err)
		}
	}
	return nil
}

// readLine reads exactly one newline-delimited JSON line from r, used only
// by the init handshake before the steady-state reader goroutine starts.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("vortex: failed to read init message: %w", err)
	}
	return line, nil
}
