package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages, closed by the hub on disconnect.
	Send chan []byte
	// close code sent when Send is closed, set by the hub before closing Send
	closeCode int

	UserId    int64
	SessionId string

	// closed when the read loop exits
	doneChan chan struct{}
}

// enqueue must be called while holding the hub's read lock.
func (c *Client) enqueue(event string, data []byte) {
	select {
	case c.Send <- data:
	default:
		globals.AppLogger.Warn("send buffer full, event dropped", "event", event, "session", c.SessionId)
	}
}

// ServeWS upgrades the request to a websocket session. The identity is taken from the user_id query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userId, _ := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if userId == 0 {
		globals.AppLogger.Warn("websocket request without identity", "remote", r.RemoteAddr)
		http.Error(w, types.ErrAuthRequired.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}

	c, err := h.Connect(userId, conn)
	if err != nil {
		globals.AppLogger.Error("could not connect session", "error", err)
		conn.Close()
		return
	}
	go c.WriteLoop()
	c.ReadLoop()
	h.Disconnect(c)
}

// ReadLoop pumps messages from the websocket connection to the hub.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		close(c.doneChan)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				globals.AppLogger.Info("ws closed unexpected", "session", c.SessionId, "error", err)
			}
			return
		}

		message := &types.WebsocketMessage{}
		if err := json.Unmarshal(raw, message); err != nil {
			globals.AppLogger.Error("could not unmarshal ws message", "session", c.SessionId, "error", err)
			c.hub.replyError(c, types.ErrInvalidInput)
			continue
		}
		c.hub.HandleMessage(c, message)
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				globals.AppLogger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				globals.AppLogger.Debug("could not send ping message, exiting write loop")
				return
			}

		case <-c.doneChan:
			return
		}
	}
}
