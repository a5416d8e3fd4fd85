package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction is what the executor does after an MCP operation fails.
type RecoveryAction int

const (
	// NoRetry: the error is not recoverable, surface it.
	NoRetry RecoveryAction = iota
	// RetrySameSession: transient, retry on the existing session.
	RetrySameSession
	// RetryNewSession: the transport died, recreate the session first.
	RetryNewSession
)

const (
	// MaxRetries is the number of retries after the initial failure.
	MaxRetries = 1

	// ReinitTimeout bounds session recreation during recovery.
	ReinitTimeout = 10 * time.Second

	// OperationTimeout is the per-call deadline for CallTool and
	// ListTools. Some tools are legitimately slow; the iteration timeout
	// above this is the hard ceiling.
	OperationTimeout = 90 * time.Second

	// Jittered backoff window between retries.
	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond

	// MCPInitTimeout bounds per-server transport setup and handshake.
	MCPInitTimeout = 30 * time.Second

	// Health monitor loop knobs.
	MCPHealthPingTimeout = 5 * time.Second
	MCPHealthInterval    = 15 * time.Second
)

// ClassifyError maps an MCP operation error to a recovery action. The
// default for anything unrecognized is NoRetry: an unknown failure mode is
// not safe to replay against a tool that may have side effects.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			// A slow server is not a dead server.
			return NoRetry
		}
		return RetryNewSession
	}

	if isConnectionError(err) {
		return RetryNewSession
	}
	if isMCPProtocolError(err) {
		return NoRetry
	}
	return NoRetry
}

var connectionIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"connection closed",
	"no such host",
}

// isConnectionError detects transport-level failures that a fresh session
// can fix.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return containsAny(err.Error(), connectionIndicators)
}

var protocolIndicators = []string{
	"method not found",
	"invalid params",
	"invalid request",
	"parse error",
}

// isMCPProtocolError detects JSON-RPC level rejections from the SDK. The
// request itself is bad; retrying reproduces the same rejection.
func isMCPProtocolError(err error) bool {
	return containsAny(err.Error(), protocolIndicators)
}

func containsAny(msg string, needles []string) bool {
	msg = strings.ToLower(msg)
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
