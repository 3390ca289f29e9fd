package server

import (
	"strings"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// FrameHandler receives connection lifecycle events and client frames. The
// hub calls it from its run loop only, so calls never overlap.
type FrameHandler interface {
	Connect(connID string, user domain.Principal)
	Handle(connID string, raw []byte)
	Disconnect(connID string)
}

// inboundFrame is one raw client frame queued for the run loop.
type inboundFrame struct {
	client  *Client
	payload []byte
}

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
