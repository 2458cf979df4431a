package ws

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"CollabProject/logger"
	"CollabProject/service/collab"
	"CollabProject/tools/ids"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 75 * time.Second
	pingEvery      = 25 * time.Second
	maxFrameSize   = 64 * 1024
	sendQueueDepth = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is the wire shape both directions: a type tag plus a free-form
// payload object.
type Frame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

type outFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// client is one upgraded websocket with its private send queue. The
// write pump is the only goroutine touching the conn for writes.
type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// close signals the write pump; the send channel itself is never
// closed so late broadcasters race-free drop into a dead queue.
func (cl *client) close() {
	cl.closeOnce.Do(func() {
		close(cl.done)
	})
}

// Server is the websocket transport: it upgrades connections, feeds
// inbound frames into the coordinator's three ingress entry points and
// implements the egress Sender over per-connection send queues.
type Server struct {
	mu    sync.RWMutex
	conns map[string]*client

	coord *collab.Coordinator
}

func NewServer() *Server {
	return &Server{conns: make(map[string]*client)}
}

// Attach wires the coordinator in after construction (the coordinator
// needs the Server as its Sender, so the two are built in sequence).
func (s *Server) Attach(coord *collab.Coordinator) {
	s.coord = coord
}

// HandleWS is the gin route for /ws.
func (s *Server) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	cl := &client{
		id:   ids.GenerateString(),
		conn: conn,
		send: make(chan []byte, sendQueueDepth),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.conns[cl.id] = cl
	s.mu.Unlock()

	go s.writePump(cl)
	s.coord.OnConnect(cl.id)
	s.readLoop(cl)

	s.coord.OnDisconnect(cl.id)
	s.mu.Lock()
	delete(s.conns, cl.id)
	s.mu.Unlock()
	cl.close()
}

// readLoop reads frames one at a time and hands them to the
// coordinator synchronously; that single goroutine per connection is
// what preserves per-sender event order.
func (s *Server) readLoop(cl *client) {
	cl.conn.SetReadLimit(maxFrameSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s", cl.id)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s", cl.id)
			} else {
				logger.Infof("[ws] read err conn=%s err=%v", cl.id, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Debugf("[ws] bad frame conn=%s err=%v sample=%q", cl.id, err, sample)
			continue
		}
		s.coord.OnMessage(cl.id, f.Type, f.Payload)
	}
}

// writePump owns writes and keepalive pings for one connection.
func (s *Server) writePump(cl *client) {
	t := time.NewTicker(pingEvery)
	defer func() {
		t.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case <-cl.done:
			_ = cl.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
			return
		case b := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				logger.Debugf("[ws] write err conn=%s err=%v", cl.id, err)
				return
			}
		case <-t.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send implements collab.Sender. Non-blocking: a connection whose
// queue is full drops the frame rather than stalling the broadcaster.
func (s *Server) Send(connID string, event string, payload any) error {
	s.mu.RLock()
	cl, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return errors.New("conn not found")
	}
	b, err := json.Marshal(outFrame{Type: event, Payload: payload})
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}
	select {
	case cl.send <- b:
		return nil
	default:
		logger.Warnf("[ws] send queue full, dropping conn=%s event=%s", connID, event)
		return errors.New("send queue full")
	}
}

// Close implements collab.Sender.
func (s *Server) Close(connID string) {
	s.mu.RLock()
	cl, ok := s.conns[connID]
	s.mu.RUnlock()
	if ok {
		_ = cl.conn.Close()
	}
}
