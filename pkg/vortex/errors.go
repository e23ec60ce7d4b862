package vortex

import (
	"errors"
	"fmt"
)

// NodeError is the reason-plus-optional-cause error carried by every
// fallible operation in this package. It mirrors the original system's
// NodeError{reason, source}: a short human-readable reason and, when
// available, the underlying error that triggered it.
type NodeError struct {
	Reason string
	Cause  error
}

func (e *NodeError) Error() string {
	if e.Cause == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Cause)
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}

// newNodeError builds a NodeError with no cause.
func newNodeError(reason string) *NodeError {
	return &NodeError{Reason: reason}
}

// wrapNodeError attaches reason to an existing error, preserving it as the
// cause for errors.As/errors.Unwrap.
func wrapNodeError(reason string, cause error) *NodeError {
	if cause == nil {
		return newNodeError(reason)
	}
	return &NodeError{Reason: reason, Cause: cause}
}

// RpcErrorKind discriminates the translated KV wire errors.
type RpcErrorKind int

const (
	// RpcKeyNotFound corresponds to KV wire code 20.
	RpcKeyNotFound RpcErrorKind = iota
	// RpcCasFailed corresponds to KV wire code 22.
	RpcCasFailed
	// RpcUnknown is any other KV wire error code.
	RpcUnknown
)

// RpcError is the domain error surfaced from Node.Rpc and the KV client.
// Workloads pattern-match on Kind via errors.As, exactly as the original
// matched on the RpcError enum.
type RpcError struct {
	Kind RpcErrorKind
	Code int
	Text string
}

func (e *RpcError) Error() string {
	switch e.Kind {
	case RpcKeyNotFound:
		return "key not found"
	case RpcCasFailed:
		return fmt.Sprintf("cas error: %s", e.Text)
	default:
		return fmt.Sprintf("unknown error, code: %d: %s", e.Code, e.Text)
	}
}

// IsKeyNotFound reports whether err is (or wraps) a key-not-found RpcError.
func IsKeyNotFound(err error) bool {
	var rpcErr *RpcError
	return errors.As(err, &rpcErr) && rpcErr.Kind == RpcKeyNotFound
}

// IsCasFailed reports whether err is (or wraps) a cas-failed RpcError.
func IsCasFailed(err error) bool {
	var rpcErr *RpcError
	return errors.As(err, &rpcErr) && rpcErr.Kind == RpcCasFailed
}

// MessageError marks a per-message failure: malformed JSON, an unknown
// payload variant, or an unexpected reply shape. Per spec.md §7 these are
// logged and the offending message is dropped; the node continues. Every
// other error is treated as fatal by the main loop.
type MessageError struct {
	NodeError
}

func newMessageError(reason string) *MessageError {
	return &MessageError{NodeError{Reason: reason}}
}

func wrapMessageError(reason string, cause error) *MessageError {
	if cause == nil {
		return newMessageError(reason)
	}
	return &MessageError{NodeError{Reason: reason, Cause: cause}}
}

// IsMessageError reports whether err represents a per-message failure
// (spec.md §7), as opposed to a fatal one.
func IsMessageError(err error) bool {
	var me *MessageError
	return errors.As(err, &me)
}

// NewUnknownPayloadError builds the per-message error for an inbound
// payload whose type tag doesn't match any variant a workload expects
// (spec.md §7: "unknown payload variant" is a per-message error, not
// fatal).
func NewUnknownPayloadError(payloadType string) error {
	return newMessageError(fmt.Sprintf("unexpected message type: %s", payloadType))
}
