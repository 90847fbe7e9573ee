package session

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-conference/api"
	"github.com/tcriess/lightspeed-conference/channel"
	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/persistence"
	"github.com/tcriess/lightspeed-conference/types"
	"github.com/tcriess/lightspeed-conference/ws"
)

func newServer(t *testing.T) (*httptest.Server, *ws.Hub, persistence.Persister) {
	p, err := persistence.NewBuntPersister(persistence.MemoryPath, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, persistence.SeedPolls(p, types.DefaultPolls()))
	cfg := &config.Config{AuthorizationConfig: config.AuthorizationConfig{ScheduleRule: `User.Role == "admin"`}}
	hub := ws.NewHub(cfg, p)
	s, err := api.NewServer(cfg, p, hub)
	require.NoError(t, err)
	server := httptest.NewServer(s)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return server, hub, p
}

func clientConfig(serverUrl string) *config.Config {
	return &config.Config{
		PersistenceConfig: config.PersistenceConfig{Type: "memory"},
		SyncConfig:        config.SyncConfig{ServerUrl: serverUrl, ConfirmTimeout: time.Second},
		ChannelConfig:     config.ChannelConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, MaxAttempts: 3},
	}
}

func waitConnected(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Channel.State() == channel.Connected }, 2*time.Second, 5*time.Millisecond)
}

func TestOpenRequiresIdentity(t *testing.T) {
	_, err := Open(context.Background(), clientConfig("http://127.0.0.1:1"), types.User{}, nil)
	assert.ErrorIs(t, err, types.ErrAuthRequired)
}

func TestTwoSessionsConverge(t *testing.T) {
	server, hub, serverStore := newServer(t)
	ctx := context.Background()

	alice, err := Open(ctx, clientConfig(server.URL), types.User{Id: 1, Name: "Alice"}, nil)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := Open(ctx, clientConfig(server.URL), types.User{Id: 2, Name: "Bob"}, nil)
	require.NoError(t, err)
	defer bob.Close()
	waitConnected(t, alice)
	waitConnected(t, bob)
	// the hub registers a session right after the handshake
	require.Eventually(t, func() bool { return hub.NoClients() == 2 }, 2*time.Second, 5*time.Millisecond)

	received := make(chan json.RawMessage, 64)
	bob.Channel.Subscribe(channel.NewMessage, func(e channel.Event) {
		select {
		case received <- e.Data:
		default:
		}
	})

	sent, err := alice.Coordinator.SendMessage(ctx, 1, "hello bob", "")
	require.NoError(t, err)

	var message types.Message
	select {
	case data := <-received:
		require.NoError(t, json.Unmarshal(data, &message))
	case <-time.After(2 * time.Second):
		t.Fatal("bob did not receive the message")
	}
	assert.Equal(t, sent.Id, message.Id)

	aliceLocal, err := alice.Store.GetMessage(sent.Id)
	require.NoError(t, err)
	bobLocal, err := bob.Store.GetMessage(sent.Id)
	require.NoError(t, err)
	assert.Equal(t, *aliceLocal, *bobLocal)
	assert.Equal(t, "hello bob", bobLocal.Text)

	stored, err := serverStore.GetMessage(sent.Id)
	require.NoError(t, err)
	assert.Equal(t, *stored, *bobLocal)

	credited, err := bob.Coordinator.CompletePoll(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, credited)
	require.Eventually(t, func() bool {
		u, err := alice.Store.GetUser(2)
		return err == nil && u.Coins == 10
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOfflineSessionUsesLocalData(t *testing.T) {
	cfg := clientConfig("http://127.0.0.1:1")
	s, err := Open(context.Background(), cfg, types.User{Id: 5, Name: "Offline"}, nil)
	require.NoError(t, err)
	defer s.Close()

	polls, err := s.Store.GetPolls()
	require.NoError(t, err)
	assert.Len(t, polls, 2)
	require.Eventually(t, func() bool { return s.Channel.State() == channel.GivenUp }, 2*time.Second, 5*time.Millisecond)

	user, accepted, err := s.Coordinator.Click(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, int64(1), user.ClickCount)
}
