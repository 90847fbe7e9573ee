// Package channel keeps the client's realtime connection to the hub alive and applies inbound events to the local
// record store.
package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/merge"
	"github.com/tcriess/lightspeed-conference/persistence"
	"github.com/tcriess/lightspeed-conference/types"
)

type State int

const (
	Idle State = iota
	Connecting
	Connected
	Reconnecting
	GivenUp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case GivenUp:
		return "givenUp"
	}
	return "unknown"
}

const (
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 5 * time.Second
	defaultMaxAttempts = 3
)

type Options struct {
	Url         string // websocket endpoint, the user_id query parameter is added on dial
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// OptionsFromConfig builds the manager options for the server at serverUrl.
func OptionsFromConfig(cfg config.ChannelConfig, serverUrl string) (Options, error) {
	wsUrl, err := WebsocketUrl(serverUrl)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Url:         wsUrl,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		MaxAttempts: cfg.MaxAttempts,
	}, nil
}

func newBackOff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Manager owns one realtime connection. Transport errors never escape, they only move the state machine.
type Manager struct {
	dialer Dialer
	store  persistence.Persister
	opts   Options

	mu       sync.Mutex
	state    State
	ctx      context.Context
	cancel   context.CancelFunc // aborts a dial of the current epoch
	userId   int64
	attempts int
	backOff  *backoff.ExponentialBackOff
	conn     Conn
	timer    *time.Timer
	// incremented by Start and Stop, callbacks of an older epoch are ignored
	epoch uint64

	writeMu sync.Mutex

	subMu sync.RWMutex
	subs  map[EventKind]map[*Subscription]Handler
}

func NewManager(dialer Dialer, store persistence.Persister, opts Options) *Manager {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = defaultMaxDelay
		if opts.MaxDelay < opts.BaseDelay {
			opts.MaxDelay = opts.BaseDelay
		}
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Manager{
		dialer:  dialer,
		store:   store,
		opts:    opts,
		backOff: newBackOff(opts.BaseDelay, opts.MaxDelay),
		subs:    make(map[EventKind]map[*Subscription]Handler),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start (re)connects as userId. Pending reconnects are cancelled and the attempt counter is reset.
func (m *Manager) Start(ctx context.Context, userId int64) {
	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.stopTimerLocked()
	m.closeConnLocked()
	m.cancelLocked()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.userId = userId
	m.attempts = 0
	m.backOff.Reset()
	m.state = Connecting
	m.mu.Unlock()

	m.publishState(Connecting)
	go m.connect(epoch)
}

// Stop deregisters all subscriptions, cancels a pending reconnect or handshake and closes the connection.
func (m *Manager) Stop() {
	m.subMu.Lock()
	m.subs = make(map[EventKind]map[*Subscription]Handler)
	m.subMu.Unlock()

	m.mu.Lock()
	m.epoch++
	m.stopTimerLocked()
	m.cancelLocked()
	m.closeConnLocked()
	m.state = Idle
	m.mu.Unlock()
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) cancelLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Manager) closeConnLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) connect(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	userId := m.userId
	m.mu.Unlock()

	dialUrl, err := withIdentity(m.opts.Url, userId)
	var conn Conn
	if err == nil {
		conn, err = m.dialer.Dial(ctx, dialUrl)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		globals.AppLogger.Warn("could not connect", "url", m.opts.Url, "error", err)
		state := m.failLocked(epoch)
		m.mu.Unlock()
		m.publishState(state)
		return
	}
	m.conn = conn
	m.state = Connected
	m.attempts = 0
	m.backOff.Reset()
	m.mu.Unlock()

	globals.AppLogger.Info("connected", "url", m.opts.Url, "user", userId)
	m.publishState(Connected)
	go m.readLoop(conn, epoch)
}

// failLocked counts a failed connection and either schedules the next attempt or gives up.
func (m *Manager) failLocked(epoch uint64) State {
	m.attempts++
	if m.attempts > m.opts.MaxAttempts {
		globals.AppLogger.Warn("giving up, staying in local-only mode", "attempts", m.attempts)
		m.state = GivenUp
		return m.state
	}
	delay := m.backOff.NextBackOff()
	globals.AppLogger.Debug("reconnecting", "attempt", m.attempts, "delay", delay)
	m.state = Reconnecting
	m.timer = time.AfterFunc(delay, func() { m.retry(epoch) })
	return m.state
}

func (m *Manager) retry(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch || m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.state = Connecting
	m.mu.Unlock()

	m.publishState(Connecting)
	m.connect(epoch)
}

func (m *Manager) connectionLost(conn Conn, epoch uint64, err error) {
	m.mu.Lock()
	if m.epoch != epoch || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	_ = conn.Close()
	var state State
	if deliberateClose(err) {
		globals.AppLogger.Info("server closed the connection", "error", err)
		m.state = Idle
		state = Idle
	} else {
		globals.AppLogger.Warn("connection lost", "error", err)
		state = m.failLocked(epoch)
	}
	m.mu.Unlock()
	m.publishState(state)
}

func (m *Manager) readLoop(conn Conn, epoch uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(conn, epoch, err)
			return
		}
		message := &types.WebsocketMessage{}
		if err := json.Unmarshal(raw, message); err != nil {
			globals.AppLogger.Error("could not unmarshal ws message", "error", err)
			continue
		}
		if err := m.apply(message); err != nil {
			globals.AppLogger.Error("could not apply inbound event", "event", message.Event, "error", err)
			continue
		}
		m.publish(Event{Kind: EventKind(message.Event), Data: message.Data})
	}
}

// apply writes an inbound event to the local store.
func (m *Manager) apply(message *types.WebsocketMessage) error {
	switch message.Event {
	case types.EventNewMessage:
		msg := types.Message{}
		if err := json.Unmarshal(message.Data, &msg); err != nil {
			return err
		}
		_, err := m.store.StoreMessage(msg)
		return err

	case types.EventMessageLiked:
		like := types.LikePayload{}
		if err := json.Unmarshal(message.Data, &like); err != nil {
			return err
		}
		_, err := m.store.LikeMessage(like.MessageId)
		if err == types.ErrNotFound {
			return nil
		}
		return err

	case types.EventUserUpdated, types.EventUserJoined:
		patch := make(map[string]interface{})
		if err := json.Unmarshal(message.Data, &patch); err != nil {
			return err
		}
		return m.applyUser(patch)

	case types.EventUserLeft:
		ref := types.UserRef{}
		if err := json.Unmarshal(message.Data, &ref); err != nil {
			return err
		}
		m.mu.Lock()
		own := ref.UserId == m.userId
		m.mu.Unlock()
		if own {
			return nil
		}
		err := m.store.DeleteUser(ref.UserId)
		if err == types.ErrNotFound {
			return nil
		}
		return err

	case types.EventError:
		payload := types.ErrorPayload{}
		if err := json.Unmarshal(message.Data, &payload); err != nil {
			return err
		}
		globals.AppLogger.Warn("server rejected an event", "message", payload.Message)
	}
	return nil
}

// applyUser merges a (possibly partial) user record into the local copy, counters never go backwards.
func (m *Manager) applyUser(patch map[string]interface{}) error {
	id := types.PatchId(patch)
	if id == 0 {
		return types.ErrInvalidInput
	}
	local, err := m.store.GetUser(id)
	if err == types.ErrNotFound {
		user := types.User{Id: id}
		if err := mapstructure.WeakDecode(patch, &user); err != nil {
			return err
		}
		_, err = m.store.StoreUser(user)
		return err
	}
	if err != nil {
		return err
	}
	incoming := *local
	if err := types.ApplyUserPatch(&incoming, patch); err != nil {
		return err
	}
	merged := merge.Users(*local, incoming)
	if merged.Hash() == local.Hash() {
		return nil
	}
	_, err = m.store.StoreUser(merged)
	return err
}

// Emit sends an event if connected. Otherwise the event is dropped, there is no outbound queue.
func (m *Manager) Emit(event string, payload interface{}) bool {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()
	if state != Connected || conn == nil {
		globals.AppLogger.Debug("not connected, event dropped", "event", event, "state", state)
		return false
	}
	msg, err := types.NewWebsocketMessage(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not encode event", "event", event, "error", err)
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return false
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		globals.AppLogger.Warn("could not send event", "event", event, "error", err)
		return false
	}
	return true
}
