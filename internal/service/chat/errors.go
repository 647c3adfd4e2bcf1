package chat

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected       = errors.New("chat transport not connected")
	ErrNoSessionID        = errors.New("connect reply carried no session id")
	ErrTransportClosed    = errors.New("chat transport closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrStreamerRequired   = errors.New("streamer id is required")
)

// ConnectionError 报告的连接阶段
const (
	StageDial     = "dial"
	StageConnect  = "connect"
	StageBackfill = "backfill"
	StagePing     = "ping"
)

// ConnectionError 连接失败及其所处的握手阶段。StagePing 阶段失败表示连接没能撑过握手。
type ConnectionError struct {
	Stage         string
	ChatChannelID string
	Err           error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("chat connect %s (channel %s): %v", e.Stage, e.ChatChannelID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsRetryableError 判断错误是否可重试
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransportClosed) || errors.Is(err, ErrReconnectExhausted) {
		return false
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		return false
	}
	return true
}
