package collab

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/localmesh/core"
)

const (
	// pongWait is how long a connection may stay silent before the read
	// side gives up on it.
	pongWait = 60 * time.Second

	// pingPeriod is the keepalive interval. Must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var errConnClosed = fmt.Errorf("collab: connection closed")

// conn is one WebSocket participant. Outbound frames go through a bounded
// send channel drained by writePump; a participant that cannot keep up is
// dropped rather than allowed to stall the broadcaster.
type conn struct {
	id     string
	server *Server
	ws     *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	sessions map[string]struct{}
	agents   map[string]string // agent ID -> session it registered in
}

func newConn(server *Server, ws *websocket.Conn) *conn {
	return &conn{
		id:       core.NewID(),
		server:   server,
		ws:       ws,
		send:     make(chan []byte, server.sendBuffer),
		done:     make(chan struct{}),
		sessions: make(map[string]struct{}),
		agents:   make(map[string]string),
	}
}

// close releases the underlying socket and wakes both pumps. Safe to call
// more than once.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// offer queues a frame without blocking. A full send buffer means the
// consumer is too slow and the caller should drop the connection.
func (c *conn) offer(data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	case c.send <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// joinedSession records room membership on the connection.
func (c *conn) joinedSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = struct{}{}
}

// leftSession drops room membership. It reports whether the connection was
// a member.
func (c *conn) leftSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	return ok
}

// memberOf reports whether the connection has joined the session.
func (c *conn) memberOf(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[sessionID]
	return ok
}

// ownAgent records an agent registration, returning the session the agent
// was previously registered in when it moved.
func (c *conn) ownAgent(agentID, sessionID string) (previous string, moved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous, ok := c.agents[agentID]
	c.agents[agentID] = sessionID
	return previous, ok && previous != sessionID
}

// disownAgent removes an agent registration, returning the session it was
// registered in.
func (c *conn) disownAgent(agentID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessionID, ok := c.agents[agentID]
	delete(c.agents, agentID)
	return sessionID, ok
}

// snapshot copies the connection's membership and agent ownership for
// cleanup outside the lock.
func (c *conn) snapshot() (sessions []string, agents map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions = make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		sessions = append(sessions, id)
	}
	agents = make(map[string]string, len(c.agents))
	for id, sess := range c.agents {
		agents[id] = sess
	}
	return sessions, agents
}

// agentsIn lists the connection's agents registered in the given session.
func (c *conn) agentsIn(sessionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.agents))
	for id, sess := range c.agents {
		if sess == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}

// readPump consumes inbound frames until the socket dies, then triggers
// connection cleanup. Malformed frames are answered inside dispatchFrame;
// only transport errors end the loop.
func (c *conn) readPump() {
	defer c.server.dropConn(c, "connection closed")

	c.ws.SetReadLimit(c.server.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.server.dispatchFrame(c, data)
	}
}

// writePump drains the send channel onto the socket, interleaving pings.
// Every write carries a deadline so a wedged peer cannot hold the pump.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
