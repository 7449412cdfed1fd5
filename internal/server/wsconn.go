package server

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// wsConn adapts a gorilla connection to chat.Conn. It owns the keepalive
// ping loop and the read and write deadlines.
type wsConn struct {
	conn           *websocket.Conn
	addr           string
	maxMessageSize int64

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, addr string, maxMessageSize int64) *wsConn {
	c := &wsConn{
		conn:           conn,
		addr:           addr,
		maxMessageSize: maxMessageSize,
		done:           make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	c.setupReadConnection()
	go c.pingLoop(pingPeriod)
	return c
}

func (c *wsConn) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Warn().Str("module", "server.ws").Str("remote", c.addr).Err(err).Msg("setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *wsConn) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !isExpectedCloseError(err) {
					log.Debug().Str("module", "server.ws").Str("remote", c.addr).Err(err).Msg("ping failed")
				}
				return
			}
		}
	}
}

// ReadFrame returns the next text frame. Binary frames are skipped.
func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			return nil, c.classifyReadError(err)
		}
		if kind != websocket.TextMessage {
			log.Debug().Str("module", "server.ws").Str("remote", c.addr).Int("type", kind).Msg("ignoring non-text frame")
			continue
		}
		return frame, nil
	}
}

// classifyReadError maps the ways a peer can go away to io.EOF and passes
// every other failure through.
func (c *wsConn) classifyReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		log.Warn().Str("module", "server.ws").Str("remote", c.addr).Int64("limit", c.maxMessageSize).Msg("message exceeded maximum size")
		return err
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return io.EOF
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		return io.EOF
	}

	return err
}

// WriteFrame writes one text frame under the write deadline.
func (c *wsConn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a best-effort close frame and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil && !isExpectedCloseError(werr) {
			log.Debug().Str("module", "server.ws").Str("remote", c.addr).Err(werr).Msg("writing close frame")
		}
		if cerr := c.conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			err = cerr
		}
	})
	return err
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
