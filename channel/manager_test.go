package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-conference/persistence"
	"github.com/tcriess/lightspeed-conference/types"
)

type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}

	mu       sync.Mutex
	readErr  error
	written  [][]byte
	isClosed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return 0, nil, c.readErr
		}
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return errors.New("closed")
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isClosed {
		c.isClosed = true
		close(c.closed)
	}
	return nil
}

// fail ends the read loop with err.
func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	_ = c.Close()
}

func (c *fakeConn) send(t *testing.T, event string, payload interface{}) []byte {
	msg, err := types.NewWebsocketMessage(event, payload)
	require.NoError(t, err)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	c.inbound <- raw
	return msg.Data
}

// fakeDialer hands out the scripted connections in order, a nil entry is a failed dial. When the script is
// exhausted every dial fails.
type fakeDialer struct {
	mu     sync.Mutex
	script []*fakeConn
	urls   []string
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.script) == 0 {
		return nil, errors.New("connection refused")
	}
	conn := d.script[0]
	d.script = d.script[1:]
	if conn == nil {
		return nil, errors.New("connection refused")
	}
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) push(conns ...*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, conns...)
}

func newTestManager(t *testing.T, dialer *fakeDialer, maxAttempts int) (*Manager, persistence.Persister) {
	store, err := persistence.NewBuntPersister(persistence.MemoryPath, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	m := NewManager(dialer, store, Options{
		Url:         "ws://conference.test/ws",
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: maxAttempts,
	})
	t.Cleanup(m.Stop)
	return m, store
}

func waitForState(t *testing.T, m *Manager, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == state }, 2*time.Second, time.Millisecond, "state %s not reached, is %s", state, m.State())
}

func TestBackOffSequence(t *testing.T) {
	b := newBackOff(time.Second, 5*time.Second)
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for _, want := range expected {
		assert.Equal(t, want, b.NextBackOff())
	}
	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestWebsocketUrl(t *testing.T) {
	u, err := WebsocketUrl("http://localhost:3000")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3000/ws", u)

	u, err = WebsocketUrl("https://conference.example.com/api")
	require.NoError(t, err)
	assert.Equal(t, "wss://conference.example.com/api/ws", u)

	_, err = WebsocketUrl("ftp://example.com")
	assert.Error(t, err)
}

func TestConnectWithIdentity(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.push(newFakeConn())
	m, _ := newTestManager(t, dialer, 3)

	states := make(chan State, 8)
	m.Subscribe(StateChanged, func(e Event) { states <- e.State })
	m.Start(context.Background(), 42)
	waitForState(t, m, Connected)

	assert.Equal(t, "ws://conference.test/ws?user_id=42", dialer.urls[0])
	assert.Equal(t, Connecting, <-states)
	assert.Equal(t, Connected, <-states)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, 3)

	m.Start(context.Background(), 1)
	waitForState(t, m, GivenUp)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, dialer.dials())
	assert.False(t, m.Emit(types.EventSendMessage, types.Message{Id: 1}))

	dialer.push(newFakeConn())
	m.Start(context.Background(), 1)
	waitForState(t, m, Connected)
	assert.Equal(t, 5, dialer.dials())
}

func TestReconnectsAfterUnexpectedClose(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{}
	dialer.push(first, nil, second)
	m, _ := newTestManager(t, dialer, 3)

	m.Start(context.Background(), 1)
	waitForState(t, m, Connected)

	first.fail(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	require.Eventually(t, func() bool { return dialer.dials() == 3 }, 2*time.Second, time.Millisecond)
	waitForState(t, m, Connected)

	assert.True(t, m.Emit(types.EventMessageLiked, types.LikePayload{MessageId: 3}))
	second.mu.Lock()
	defer second.mu.Unlock()
	require.Len(t, second.written, 1)
	assert.JSONEq(t, `{"event":"messageLiked","data":{"messageId":3}}`, string(second.written[0]))
}

func TestDeliberateCloseGoesIdle(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	m, _ := newTestManager(t, dialer, 3)

	m.Start(context.Background(), 1)
	waitForState(t, m, Connected)
	conn.fail(&websocket.CloseError{Code: websocket.ClosePolicyViolation})
	waitForState(t, m, Idle)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dials())
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	store, err := persistence.NewBuntPersister(persistence.MemoryPath, "")
	require.NoError(t, err)
	defer store.Close()
	m := NewManager(dialer, store, Options{Url: "ws://conference.test/ws", BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 3})

	m.Start(context.Background(), 1)
	waitForState(t, m, Reconnecting)
	m.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, dialer.dials())
	assert.Equal(t, Idle, m.State())
}

func TestInboundEventsAreApplied(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	m, store := newTestManager(t, dialer, 3)
	_, err := store.StoreUser(types.User{Id: 1, Name: "Me", Coins: 10, ClickCount: 4})
	require.NoError(t, err)
	_, err = store.StoreUser(types.NewUser(2, "Other"))
	require.NoError(t, err)

	received := make(chan Event, 8)
	for _, kind := range []EventKind{NewMessage, MessageLiked, UserUpdated, UserLeft} {
		m.Subscribe(kind, func(e Event) { received <- e })
	}
	m.Start(context.Background(), 1)
	waitForState(t, m, Connected)

	message := types.Message{Id: 9, UserId: 2, Text: "hello", Timestamp: 1000}
	sent := conn.send(t, types.EventNewMessage, message)
	e := <-received
	assert.Equal(t, NewMessage, e.Kind)
	assert.Equal(t, []byte(sent), []byte(e.Data))
	stored, err := store.GetMessage(9)
	require.NoError(t, err)
	assert.Equal(t, message, *stored)

	conn.send(t, types.EventMessageLiked, types.LikePayload{MessageId: 9})
	<-received
	stored, err = store.GetMessage(9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Likes)

	// a stale copy from the server must not lower the local counters
	conn.send(t, types.EventUserUpdated, types.User{Id: 1, Name: "Me, renamed", Coins: 3, ClickCount: 1})
	<-received
	me, err := store.GetUser(1)
	require.NoError(t, err)
	assert.Equal(t, "Me, renamed", me.Name)
	assert.Equal(t, int64(10), me.Coins)
	assert.Equal(t, int64(4), me.ClickCount)

	conn.send(t, types.EventUserLeft, types.UserRef{UserId: 1})
	<-received
	conn.send(t, types.EventUserLeft, types.UserRef{UserId: 2})
	<-received
	_, err = store.GetUser(1)
	assert.NoError(t, err)
	_, err = store.GetUser(2)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUnsubscribe(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	m, _ := newTestManager(t, dialer, 3)

	first := make(chan Event, 4)
	second := make(chan Event, 4)
	sub := m.Subscribe(NewMessage, func(e Event) { first <- e })
	m.Subscribe(NewMessage, func(e Event) { second <- e })
	sub.Unsubscribe()
	sub.Unsubscribe()

	m.Start(context.Background(), 1)
	waitForState(t, m, Connected)
	conn.send(t, types.EventNewMessage, types.Message{Id: 1, Timestamp: 1})
	<-second
	assert.Len(t, first, 0)
}

func TestGoingAwayReconnects(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{}
	dialer.push(first, second)
	m, _ := newTestManager(t, dialer, 3)

	m.Start(context.Background(), 1)
	waitForState(t, m, Connected)
	first.fail(&websocket.CloseError{Code: websocket.CloseGoingAway})
	require.Eventually(t, func() bool { return dialer.dials() == 2 }, 2*time.Second, time.Millisecond)
	waitForState(t, m, Connected)
}

// hangingDialer blocks until the dial context is done.
type hangingDialer struct {
	started   chan struct{}
	cancelled chan error
}

func (d *hangingDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	close(d.started)
	<-ctx.Done()
	d.cancelled <- ctx.Err()
	return nil, ctx.Err()
}

func TestStopAbortsPendingDial(t *testing.T) {
	dialer := &hangingDialer{started: make(chan struct{}), cancelled: make(chan error, 1)}
	store, err := persistence.NewBuntPersister(persistence.MemoryPath, "")
	require.NoError(t, err)
	defer store.Close()
	m := NewManager(dialer, store, Options{Url: "ws://conference.test/ws", MaxAttempts: 3})

	m.Start(context.Background(), 1)
	<-dialer.started
	m.Stop()

	select {
	case err := <-dialer.cancelled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dial was not cancelled")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Idle, m.State())
}

func TestMalformedServerErrorIsNotDelivered(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	m, _ := newTestManager(t, dialer, 3)

	received := make(chan Event, 4)
	m.Subscribe(ServerError, func(e Event) { received <- e })
	m.Start(context.Background(), 1)
	waitForState(t, m, Connected)

	conn.send(t, types.EventError, "not an object")
	conn.send(t, types.EventError, types.ErrorPayload{Message: "rejected"})
	e := <-received
	assert.JSONEq(t, `{"message":"rejected"}`, string(e.Data))
	assert.Len(t, received, 0)
}
