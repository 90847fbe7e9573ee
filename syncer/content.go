package syncer

import (
	"context"

	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/merge"
	"github.com/tcriess/lightspeed-conference/persistence"
	"github.com/tcriess/lightspeed-conference/types"
)

// SendMessage stores a new message locally, publishes it on the realtime channel and confirms it with the server.
func (c *Coordinator) SendMessage(ctx context.Context, userId int64, text, imageUrl string) (*types.Message, error) {
	stored, err := c.store.AddMessage(types.NewMessage(userId, text, imageUrl))
	if err != nil {
		return nil, err
	}
	c.emitter.Emit(types.EventSendMessage, stored)

	cctx, cancel := c.confirmContext(ctx)
	defer cancel()
	server, err := c.remote.PostMessage(cctx, *stored)
	if err != nil {
		globals.AppLogger.Warn("could not confirm message, pending sync", "message", stored.Id, "error", err)
		return stored, nil
	}
	if server.Id != stored.Id {
		if err := c.dropMessage(*stored); err != nil {
			return nil, err
		}
	}
	return c.mergeMessage(*server)
}

// dropMessage removes the local copy of a message the server stored under another id. The local id may already
// hold a different message received from the server, which is kept.
func (c *Coordinator) dropMessage(message types.Message) error {
	local, err := c.store.GetMessage(message.Id)
	if err == types.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if !local.SameAs(message) {
		return nil
	}
	err = c.store.DeleteMessage(message.Id)
	if err == types.ErrNotFound {
		return nil
	}
	return err
}

// LikeMessage likes a message once per session. It reports false if the message was already liked in this session
// or does not exist.
func (c *Coordinator) LikeMessage(ctx context.Context, messageId int64) (bool, error) {
	if found, _ := c.liked.ContainsOrAdd(messageId, struct{}{}); found {
		return false, nil
	}
	_, err := c.store.LikeMessage(messageId)
	if err != nil {
		c.liked.Remove(messageId)
		if err == types.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	c.emitter.Emit(types.EventMessageLiked, types.LikePayload{MessageId: messageId})
	return true, nil
}

// CompletePoll records that the user completed the poll and credits the poll's reward. It reports false if the
// poll is unknown or was already completed by the user.
func (c *Coordinator) CompletePoll(ctx context.Context, userId, pollId int64) (bool, error) {
	poll, added, err := c.store.CompletePoll(pollId, userId)
	if err == types.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !added {
		return false, nil
	}

	cctx, cancel := c.confirmContext(ctx)
	server, err := c.remote.CompletePoll(cctx, pollId, userId)
	cancel()
	if err != nil {
		globals.AppLogger.Warn("could not confirm poll completion, pending sync", "poll", pollId, "error", err)
	} else if _, err := c.mergePoll(*server); err != nil {
		return false, err
	}

	if _, err := c.AddCoins(ctx, userId, poll.Coins); err != nil {
		return false, err
	}
	return true, nil
}

// AddScheduleItem stores a new item locally and on the server. Authorization is the caller's responsibility.
func (c *Coordinator) AddScheduleItem(ctx context.Context, item types.ScheduleItem) (*types.ScheduleItem, error) {
	stored, err := c.store.StoreScheduleItem(item)
	if err != nil {
		return nil, err
	}
	return c.confirmScheduleItem(ctx, *stored)
}

func (c *Coordinator) UpdateScheduleItem(ctx context.Context, id int64, patch map[string]interface{}) (*types.ScheduleItem, error) {
	updated, err := c.store.UpdateScheduleItem(id, patch)
	if err != nil {
		return nil, err
	}
	return c.confirmScheduleItem(ctx, *updated)
}

func (c *Coordinator) DeleteScheduleItem(ctx context.Context, id int64) error {
	if err := c.store.DeleteScheduleItem(id); err != nil {
		return err
	}
	cctx, cancel := c.confirmContext(ctx)
	defer cancel()
	if err := c.remote.DeleteScheduleItem(cctx, id); err != nil {
		globals.AppLogger.Warn("could not confirm schedule deletion, pending sync", "item", id, "error", err)
	}
	return nil
}

func (c *Coordinator) confirmScheduleItem(ctx context.Context, item types.ScheduleItem) (*types.ScheduleItem, error) {
	cctx, cancel := c.confirmContext(ctx)
	defer cancel()
	server, err := c.remote.PutScheduleItem(cctx, item)
	if err != nil {
		globals.AppLogger.Warn("could not confirm schedule item, pending sync", "item", item.Id, "error", err)
		return &item, nil
	}
	return c.store.StoreScheduleItem(*server)
}

func (c *Coordinator) mergeMessage(server types.Message) (*types.Message, error) {
	local, err := c.store.GetMessage(server.Id)
	if err == types.ErrNotFound {
		return c.store.StoreMessage(server)
	}
	if err != nil {
		return nil, err
	}
	return c.store.StoreMessage(merge.Messages(*local, server))
}

func (c *Coordinator) mergePoll(server types.Poll) (*types.Poll, error) {
	local, err := c.store.GetPoll(server.Id)
	if err == types.ErrNotFound {
		return c.store.StorePoll(server)
	}
	if err != nil {
		return nil, err
	}
	return c.store.StorePoll(merge.Polls(*local, server))
}

// InitializeData seeds the local polls and pulls every collection from the server. A collection that can not be
// fetched keeps its local data.
func (c *Coordinator) InitializeData(ctx context.Context) error {
	if len(c.opts.Polls) > 0 {
		if err := persistence.SeedPolls(c.store, c.opts.Polls); err != nil {
			return err
		}
	}
	if _, err := c.LoadUsers(ctx); err != nil {
		return err
	}

	cctx, cancel := c.confirmContext(ctx)
	messages, err := c.remote.GetMessages(cctx)
	cancel()
	if err != nil {
		globals.AppLogger.Warn("could not fetch messages, using local data", "error", err)
	}
	for _, message := range messages {
		if _, err := c.mergeMessage(*message); err != nil {
			return err
		}
	}

	cctx, cancel = c.confirmContext(ctx)
	polls, err := c.remote.GetPolls(cctx)
	cancel()
	if err != nil {
		globals.AppLogger.Warn("could not fetch polls, using local data", "error", err)
	}
	for _, poll := range polls {
		if _, err := c.mergePoll(*poll); err != nil {
			return err
		}
	}

	cctx, cancel = c.confirmContext(ctx)
	schedule, err := c.remote.GetSchedule(cctx)
	cancel()
	if err != nil {
		globals.AppLogger.Warn("could not fetch schedule, using local data", "error", err)
	}
	for _, item := range schedule {
		if _, err := c.store.StoreScheduleItem(*item); err != nil {
			return err
		}
	}
	return nil
}

// LoadUsers fetches all users from the server and merges them into the local store. If the server can not be
// reached the local users are returned.
func (c *Coordinator) LoadUsers(ctx context.Context) ([]*types.User, error) {
	cctx, cancel := c.confirmContext(ctx)
	users, err := c.remote.GetUsers(cctx)
	cancel()
	if err != nil {
		globals.AppLogger.Warn("could not fetch users, using local data", "error", err)
		return c.store.GetUsers()
	}
	for _, user := range users {
		if _, err := c.Reconcile(*user); err != nil {
			return nil, err
		}
	}
	return c.store.GetUsers()
}
