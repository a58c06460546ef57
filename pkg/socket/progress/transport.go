package progress

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var (
	errInvalidOrigin   = stderrors.New("stream origin must have a host")
	errEmptyTaskID     = stderrors.New("task id is empty")
	errInvalidTemplate = stderrors.New("path template must contain " + TASK_ID_PLACEHOLDER)
	errOpenTimeout     = stderrors.New("stream did not open in time")
)

// Conn is the part of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{Dialer: websocket.DefaultDialer}
}

func (d *WebsocketDialer) Dial(ctx context.Context, target string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, target, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// closeCode extracts the close code of a read error, -1 for transport errors.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

func isNormalClose(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
}

func writeNormalClose(conn Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	conn.Close()
}
