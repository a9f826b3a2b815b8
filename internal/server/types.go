package server

import (
	"errors"
	"strings"
)

var (
	// ErrSendBufferFull is returned when a client is too slow to drain its
	// outbound queue.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("client closed")
	// ErrHubClosed is returned when attaching a client after shutdown.
	ErrHubClosed = errors.New("hub closed")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
