// Package session wires the client components of one signed-in user: the local record store, the realtime channel
// and the sync coordinator. Nothing here is global, a process may hold several sessions.
package session

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-conference/api"
	"github.com/tcriess/lightspeed-conference/channel"
	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/persistence"
	"github.com/tcriess/lightspeed-conference/syncer"
	"github.com/tcriess/lightspeed-conference/types"
)

type Session struct {
	User        *types.User
	Store       persistence.Persister
	Channel     *channel.Manager
	Coordinator *syncer.Coordinator
	Remote      *api.Client
}

// Open bootstraps the user, pulls the server's data and starts the realtime channel. A server that can not be reached
// is not an error, the session then works on local data until the channel connects. A nil dialer dials with
// gorilla/websocket.
func Open(ctx context.Context, cfg *config.Config, user types.User, dialer channel.Dialer) (*Session, error) {
	if user.Id == 0 {
		return nil, types.ErrAuthRequired
	}
	if dialer == nil {
		dialer = channel.WebsocketDialer{}
	}
	remote, err := api.NewClient(cfg.SyncConfig.ServerUrl, user.Id, &http.Client{})
	if err != nil {
		return nil, err
	}
	channelOpts, err := channel.OptionsFromConfig(cfg.ChannelConfig, cfg.SyncConfig.ServerUrl)
	if err != nil {
		return nil, err
	}
	store, err := persistence.NewPersister(cfg.PersistenceConfig)
	if err != nil {
		return nil, errors.Wrap(err, "could not open local store")
	}

	s := &Session{
		Store:   store,
		Remote:  remote,
		Channel: channel.NewManager(dialer, store, channelOpts),
	}
	s.Coordinator, err = syncer.New(store, remote, s.Channel, syncer.OptionsFromConfig(cfg))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	s.User, err = s.Coordinator.Bootstrap(ctx, user)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := s.Coordinator.InitializeData(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	s.Channel.Start(ctx, user.Id)
	globals.AppLogger.Info("session opened", "user", s.User.Id, "name", s.User.Name)
	return s, nil
}

// Close stops the channel before closing the store, so no inbound event is applied to a closed store.
func (s *Session) Close() error {
	s.Channel.Stop()
	return s.Store.Close()
}
