package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/persistence"
	"github.com/tcriess/lightspeed-conference/types"
)

const (
	maxMessageSize    = 64 * 1024
	pongWait          = 2 * time.Minute
	pingPeriod        = time.Minute
	writeWait         = 10 * time.Second
	defaultSendBuffer = 256
)

// Hub keeps the set of connected sessions and fans out every accepted mutation to all of them except the originator.
// Delivery is at most once: an event that does not fit into a session's send buffer is dropped for that session.
type Hub struct {
	// Registered clients.
	clients map[*Client]struct{}

	Persister persistence.Persister

	sendBuffer  int
	compactCron string

	// mutex for manipulating the clients, Send channels are only written and closed while holding it
	sync.RWMutex
}

func NewHub(cfg *config.Config, persister persistence.Persister) *Hub {
	sendBuffer := defaultSendBuffer
	compactCron := ""
	if cfg != nil {
		if cfg.HubConfig.SendBuffer > 0 {
			sendBuffer = cfg.HubConfig.SendBuffer
		}
		compactCron = cfg.PersistenceConfig.CompactCron
	}
	return &Hub{
		clients:     make(map[*Client]struct{}),
		Persister:   persister,
		sendBuffer:  sendBuffer,
		compactCron: compactCron,
	}
}

// NoClients returns the number of clients registered
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

// Connect registers a new session for userId on conn and announces the user to all other sessions.
func (h *Hub) Connect(userId int64, conn *websocket.Conn) (*Client, error) {
	if userId == 0 {
		return nil, types.ErrAuthRequired
	}
	c := &Client{
		hub:       h,
		conn:      conn,
		Send:      make(chan []byte, h.sendBuffer),
		UserId:    userId,
		SessionId: uuid.NewString(),
		doneChan:  make(chan struct{}),
	}
	h.Lock()
	h.clients[c] = struct{}{}
	h.Unlock()
	globals.AppLogger.Info("session connected", "user", userId, "session", c.SessionId)

	user, err := h.Persister.GetUser(userId)
	switch {
	case err == nil:
		h.Broadcast(types.EventUserJoined, user, c)
	case err != types.ErrNotFound:
		globals.AppLogger.Error("could not load joining user", "user", userId, "error", err)
	}
	return c, nil
}

// Disconnect removes the session and tells the remaining sessions that the user left. Calling it twice is a no-op.
func (h *Hub) Disconnect(c *Client) {
	h.Lock()
	if _, ok := h.clients[c]; !ok {
		h.Unlock()
		return
	}
	delete(h.clients, c)
	c.closeCode = websocket.CloseNormalClosure
	close(c.Send)
	h.Unlock()
	globals.AppLogger.Info("session disconnected", "user", c.UserId, "session", c.SessionId)
	h.Broadcast(types.EventUserLeft, types.UserRef{UserId: c.UserId}, nil)
}

// Close disconnects every session for a server shutdown. Sessions are closed with "going away", so clients
// reconnect once the server is back.
func (h *Hub) Close() {
	h.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	for c := range clients {
		c.closeCode = websocket.CloseGoingAway
		close(c.Send)
	}
	h.Unlock()
}

// Broadcast encodes the event once and queues it on every session except exclude (which may be nil).
func (h *Hub) Broadcast(event string, payload interface{}, exclude *Client) {
	msg, err := types.NewWebsocketMessage(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not encode event", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	for c := range h.clients {
		if c == exclude {
			continue
		}
		c.enqueue(event, data)
	}
}

// reply queues an event on a single session, if it is still registered.
func (h *Hub) reply(c *Client, event string, payload interface{}) {
	msg, err := types.NewWebsocketMessage(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not encode reply", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		globals.AppLogger.Error("could not marshal reply", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	if _, ok := h.clients[c]; ok {
		c.enqueue(event, data)
	}
}

func (h *Hub) replyError(c *Client, err error) {
	h.reply(c, types.EventError, types.ErrorPayload{Message: err.Error()})
}

// HandleMessage applies an inbound event from c to the store and broadcasts the result to all other sessions.
func (h *Hub) HandleMessage(c *Client, message *types.WebsocketMessage) {
	globals.AppLogger.Debug("inbound event", "event", message.Event, "session", c.SessionId)
	data := make(map[string]interface{})
	if len(message.Data) > 0 {
		if err := json.Unmarshal(message.Data, &data); err != nil {
			globals.AppLogger.Error("could not unmarshal event data", "event", message.Event, "error", err)
			h.replyError(c, types.ErrInvalidInput)
			return
		}
	}

	switch message.Event {
	case types.EventSendMessage:
		msg := types.Message{}
		if err := mapstructure.WeakDecode(data, &msg); err != nil {
			globals.AppLogger.Error("could not decode message", "error", err)
			h.replyError(c, types.ErrInvalidInput)
			return
		}
		if msg.UserId == 0 {
			msg.UserId = c.UserId
		}
		if msg.Timestamp == 0 {
			msg.Timestamp = time.Now().UnixMilli()
		}
		stored, err := h.Persister.AddMessage(msg)
		if err != nil {
			globals.AppLogger.Error("could not store message", "error", err)
			h.replyError(c, err)
			return
		}
		h.Broadcast(types.EventNewMessage, stored, c)

	case types.EventUserUpdated:
		id := types.PatchId(data)
		if id == 0 {
			id = c.UserId
		}
		user, err := h.Persister.MergeUser(id, data)
		if err != nil {
			globals.AppLogger.Error("could not merge user", "user", id, "error", err)
			h.replyError(c, err)
			return
		}
		h.Broadcast(types.EventUserUpdated, user, c)

	case types.EventMessageLiked:
		like := types.LikePayload{}
		if err := mapstructure.WeakDecode(data, &like); err != nil || like.MessageId == 0 {
			h.replyError(c, types.ErrInvalidInput)
			return
		}
		_, err := h.Persister.LikeMessage(like.MessageId)
		if err == types.ErrNotFound {
			globals.AppLogger.Debug("like for unknown message ignored", "message", like.MessageId)
			return
		}
		if err != nil {
			globals.AppLogger.Error("could not like message", "message", like.MessageId, "error", err)
			h.replyError(c, err)
			return
		}
		h.Broadcast(types.EventMessageLiked, like, c)

	default:
		globals.AppLogger.Warn("unknown event (ignored)", "event", message.Event)
	}
}

// Run executes the maintenance jobs until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if compactor, ok := h.Persister.(persistence.Compactor); ok && h.compactCron != "" {
		_, err := cronRunner.AddFunc(h.compactCron, func() {
			globals.AppLogger.Debug("compacting store")
			if err := compactor.Compact(); err != nil {
				globals.AppLogger.Error("could not compact store", "error", err)
			}
		})
		if err != nil {
			globals.AppLogger.Error("invalid compact cron spec (ignored)", "spec", h.compactCron, "error", err)
		}
	}
	cronRunner.Start()
	<-ctx.Done()
	<-cronRunner.Stop().Done()
}
