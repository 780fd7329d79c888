package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval   = 30 * time.Second
	maxFrameSize   = 512 * 1024
	sendBufferSize = 16
)

type outboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Client is one websocket handle of a user. A user can hold several at
// once; each registers with the presence registry independently.
type Client struct {
	conn    *websocket.Conn
	userID  string
	token   string
	id      string
	message chan outboundFrame
	done    chan struct{}
	logger  *zap.Logger

	mu       sync.Mutex
	isClosed bool
}

func newClient(conn *websocket.Conn, id, userID, token string, logger *zap.Logger) *Client {
	return &Client{
		conn:    conn,
		userID:  userID,
		token:   token,
		id:      id,
		message: make(chan outboundFrame, sendBufferSize),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

func (cl *Client) ID() string {
	return cl.id
}

// Send queues an event for delivery. It never blocks: a handle whose
// buffer is full is considered too slow and the event is dropped for that
// handle only.
func (cl *Client) Send(event string, payload interface{}) error {
	cl.mu.Lock()
	closed := cl.isClosed
	cl.mu.Unlock()
	if closed {
		return fmt.Errorf("client %s is closed", cl.id)
	}

	select {
	case cl.message <- outboundFrame{Event: event, Data: payload}:
		return nil
	case <-cl.done:
		return fmt.Errorf("client %s is closed", cl.id)
	default:
		return fmt.Errorf("client %s send buffer full", cl.id)
	}
}

func (cl *Client) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.conn.WriteMessage(websocket.PingMessage, nil)
			cl.mu.Unlock()

			if err != nil {
				cl.logger.Debug("ping failed", zap.String("connId", cl.id), zap.Error(err))
				return
			}
		}
	}
}

func (cl *Client) writePump() {
	defer func() {
		cl.mu.Lock()
		cl.isClosed = true
		cl.conn.Close()
		cl.mu.Unlock()
	}()

	for {
		select {
		case <-cl.done:
			return
		case frame, ok := <-cl.message:
			if !ok {
				return
			}

			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.conn.WriteJSON(frame)
			cl.mu.Unlock()

			if err != nil {
				cl.logger.Debug("write failed", zap.String("connId", cl.id), zap.Error(err))
				return
			}
		}
	}
}

// readPump feeds inbound frames to onFrame until the peer goes away.
// onCleanup runs exactly once when the pump exits.
func (cl *Client) readPump(onFrame func(Frame), onCleanup func()) {
	defer func() {
		if r := recover(); r != nil {
			cl.logger.Error("recovered panic in read pump",
				zap.String("connId", cl.id),
				zap.String("userId", cl.userID),
				zap.Any("panic", r),
			)
		}

		close(cl.done)
		onCleanup()
	}()

	cl.conn.SetReadLimit(maxFrameSize)

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				if closeErr.Code == websocket.CloseNormalClosure ||
					closeErr.Code == websocket.CloseGoingAway ||
					closeErr.Code == websocket.CloseNoStatusReceived {
					break
				}
			}
			cl.logger.Debug("read failed", zap.String("connId", cl.id), zap.Error(err))
			break
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			// A malformed frame is the sender's problem, not a reason to
			// drop the connection.
			_ = cl.Send(EventError, ErrorPayload{Code: "validation_error", Message: "malformed frame"})
			continue
		}

		onFrame(frame)
	}
}
