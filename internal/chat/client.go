package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 64 * 1024           // Maximum frame size allowed from peer.
)

// Client is one live connection between a browser tab (or device) and
// this process. A user may hold many of them at once.
type Client struct {
	ID       string
	UserID   int
	Username string

	hub *Hub
	svc *Service

	conn *websocket.Conn
	Send chan []byte

	// Guarded by hub.mu. Never persisted; dies with the connection.
	channels map[int]bool
	viewing  int
	unread   map[int]bool
	closed   bool
}

func NewClient(hub *Hub, svc *Service, conn *websocket.Conn, userID int, username string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		hub:      hub,
		svc:      svc,
		conn:     conn,
		Send:     make(chan []byte, 256),
		channels: make(map[int]bool),
		unread:   make(map[int]bool),
	}
}

// sendEvent queues an event for this connection only.
func (c *Client) sendEvent(e Event) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.push(c, e.encode())
}

func (c *Client) sendError(err error, conversationID int, correlationID string) {
	c.sendEvent(newEvent(EventError, errorPayload{
		Message:        errAsEvent(err),
		ConversationID: conversationID,
		CorrelationID:  correlationID,
		Timestamp:      time.Now().UTC(),
	}))
}

// ReadPump pumps frames from the websocket into the hub and the send
// pipeline. One per connection; the sole reader of the socket.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws read error: %v", err)
			}
			break
		}

		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError(&ValidationError{Reason: "malformed frame"}, 0, "")
			continue
		}
		c.dispatch(&frame)
	}
}

func (c *Client) dispatch(frame *InboundFrame) {
	switch frame.Type {
	case FrameJoin:
		if err := c.hub.Join(c, frame.ConversationID); err != nil {
			c.sendError(err, frame.ConversationID, "")
		}
	case FrameLeave:
		if err := c.hub.Leave(c, frame.ConversationID); err != nil {
			c.sendError(err, frame.ConversationID, "")
		}
	case FrameView:
		c.hub.MarkViewed(c, frame.ConversationID)
	case FrameUnview:
		c.hub.LeaveView(c)
	case FrameUnread:
		c.hub.MarkUnread(c, frame.ConversationID)
	case FrameSend:
		correlationID := uuid.NewString()
		input := SendInput{
			ConversationID: frame.ConversationID,
			UserID:         c.UserID,
			ConnectionID:   c.ID,
			Content:        frame.Content,
			AttachmentIDs:  frame.AttachmentIDs,
			Meta:           frame.Meta,
		}
		// Detached from the socket on purpose: a client dropping
		// mid-stream must not abort the upstream request, and the
		// assistant message still gets persisted.
		go func() {
			if _, err := c.svc.Send(context.Background(), input, correlationID); err != nil {
				c.sendError(err, frame.ConversationID, correlationID)
			}
		}()
	default:
		c.sendError(&ValidationError{Reason: "unknown frame type: " + frame.Type}, 0, "")
	}
}

// WritePump pumps queued messages out to the websocket and keeps the
// connection alive with pings. One per connection; the sole writer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain anything already queued into the same write.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// errAsEvent maps any primary-path failure to a client-safe message.
func errAsEvent(err error) string {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return "message could not be saved"
	}
	return err.Error()
}
