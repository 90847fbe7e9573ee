// Package syncer applies client mutations to the local record store first and confirms them with the server
// afterwards. The server's answer is merged back into the local store.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/folkengine/goname"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/merge"
	"github.com/tcriess/lightspeed-conference/persistence"
	"github.com/tcriess/lightspeed-conference/types"
	"golang.org/x/sync/semaphore"
)

const (
	defaultConfirmTimeout = 5 * time.Second
	defaultLikedCacheSize = 1024

	clickBonusEvery = 10
	clickBonusCoins = 5
)

// Remote confirms mutations with the server. Every error it returns is treated as "server unavailable".
type Remote interface {
	PutUser(ctx context.Context, user types.User) (*types.User, error)
	GetUsers(ctx context.Context) ([]*types.User, error)
	GetMessages(ctx context.Context) ([]*types.Message, error)
	PostMessage(ctx context.Context, message types.Message) (*types.Message, error)
	GetPolls(ctx context.Context) ([]*types.Poll, error)
	CompletePoll(ctx context.Context, pollId, userId int64) (*types.Poll, error)
	GetSchedule(ctx context.Context) ([]*types.ScheduleItem, error)
	PutScheduleItem(ctx context.Context, item types.ScheduleItem) (*types.ScheduleItem, error)
	DeleteScheduleItem(ctx context.Context, id int64) error
}

// Emitter publishes an event on the realtime channel. It reports false if the event was dropped.
type Emitter interface {
	Emit(event string, payload interface{}) bool
}

type Options struct {
	ConfirmTimeout time.Duration
	LikedCacheSize int
	// Polls are seeded into an empty local store by InitializeData.
	Polls []types.Poll
}

// OptionsFromConfig reads the coordinator options from the client configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ConfirmTimeout: cfg.SyncConfig.ConfirmTimeout,
		LikedCacheSize: cfg.SyncConfig.LikedCacheSize,
		Polls:          cfg.Polls(),
	}
}

type Coordinator struct {
	store   persistence.Persister
	remote  Remote
	emitter Emitter
	opts    Options

	guardsMu sync.Mutex
	guards   map[int64]*semaphore.Weighted

	// message ids liked in this session
	liked *lru.Cache
}

func New(store persistence.Persister, remote Remote, emitter Emitter, opts Options) (*Coordinator, error) {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}
	if opts.LikedCacheSize <= 0 {
		opts.LikedCacheSize = defaultLikedCacheSize
	}
	liked, err := lru.New(opts.LikedCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not create liked message cache")
	}
	return &Coordinator{
		store:   store,
		remote:  remote,
		emitter: emitter,
		opts:    opts,
		guards:  make(map[int64]*semaphore.Weighted),
		liked:   liked,
	}, nil
}

func (c *Coordinator) Store() persistence.Persister {
	return c.store
}

// guard returns the single-flight semaphore of a user.
func (c *Coordinator) guard(userId int64) *semaphore.Weighted {
	c.guardsMu.Lock()
	defer c.guardsMu.Unlock()
	g, ok := c.guards[userId]
	if !ok {
		g = semaphore.NewWeighted(1)
		c.guards[userId] = g
	}
	return g
}

func (c *Coordinator) confirmContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.ConfirmTimeout)
}

// ApplyOptimistic writes user to the local store before the server has seen it.
func (c *Coordinator) ApplyOptimistic(user types.User) (*types.User, error) {
	return c.store.StoreUser(user)
}

// Reconcile merges the server's copy of a user into the current local copy and stores the result. Nothing is written
// if the merge does not change the local copy.
func (c *Coordinator) Reconcile(server types.User) (*types.User, error) {
	local, err := c.store.GetUser(server.Id)
	if err == types.ErrNotFound {
		return c.store.StoreUser(server)
	}
	if err != nil {
		return nil, err
	}
	merged := merge.Users(*local, server)
	if merged.Hash() == local.Hash() {
		return local, nil
	}
	return c.store.StoreUser(merged)
}

// mutateUser runs apply, confirm and reconcile for one user. The caller holds the user's guard.
func (c *Coordinator) mutateUser(ctx context.Context, userId int64, fn func(*types.User) error) (*types.User, error) {
	local, err := c.store.GetUser(userId)
	if err != nil {
		return nil, err
	}
	updated := *local
	if err := fn(&updated); err != nil {
		return nil, err
	}
	optimistic, err := c.ApplyOptimistic(updated)
	if err != nil {
		return nil, err
	}
	return c.confirmUser(ctx, *optimistic)
}

// confirmUser sends user to the server and reconciles the answer. A failed confirm keeps the optimistic value.
func (c *Coordinator) confirmUser(ctx context.Context, user types.User) (*types.User, error) {
	cctx, cancel := c.confirmContext(ctx)
	defer cancel()
	server, err := c.remote.PutUser(cctx, user)
	if err != nil {
		globals.AppLogger.Warn("could not confirm user, pending sync", "user", user.Id, "error", err)
		return &user, nil
	}
	return c.Reconcile(*server)
}

// MutateUser waits for the user's guard, then applies fn optimistically and confirms the result with the server.
func (c *Coordinator) MutateUser(ctx context.Context, userId int64, fn func(*types.User) error) (*types.User, error) {
	g := c.guard(userId)
	if err := g.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.Release(1)
	return c.mutateUser(ctx, userId, fn)
}

// Click counts a click of the user. Every tenth click earns bonus coins. A click that arrives while another mutation
// of the same user is in flight is dropped and reported with accepted == false.
func (c *Coordinator) Click(ctx context.Context, userId int64) (user *types.User, accepted bool, err error) {
	g := c.guard(userId)
	if !g.TryAcquire(1) {
		globals.AppLogger.Debug("click dropped, mutation in flight", "user", userId)
		return nil, false, nil
	}
	defer g.Release(1)
	user, err = c.mutateUser(ctx, userId, func(u *types.User) error {
		u.ClickCount++
		if u.ClickCount%clickBonusEvery == 0 {
			u.Coins += clickBonusCoins
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// Bootstrap creates the session's user on first use. An existing local record keeps its counters and role, only the
// platform supplied name and photo are taken over.
func (c *Coordinator) Bootstrap(ctx context.Context, user types.User) (*types.User, error) {
	if user.Id == 0 {
		return nil, types.ErrAuthRequired
	}
	g := c.guard(user.Id)
	if err := g.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.Release(1)

	local, err := c.store.GetUser(user.Id)
	switch {
	case err == types.ErrNotFound:
		name := user.Name
		if name == "" {
			name = goname.New(goname.FantasyMap).FirstLast()
		}
		created := types.NewUser(user.Id, name)
		if user.PhotoUrl != "" {
			created.PhotoUrl = user.PhotoUrl
		}
		if types.ValidRole(user.Role) {
			created.Role = user.Role
		}
		created.Location = user.Location
		local = &created
	case err != nil:
		return nil, err
	default:
		if user.Name != "" {
			local.Name = user.Name
		}
		if user.PhotoUrl != "" {
			local.PhotoUrl = user.PhotoUrl
		}
	}
	optimistic, err := c.ApplyOptimistic(*local)
	if err != nil {
		return nil, err
	}
	return c.confirmUser(ctx, *optimistic)
}

// UpdateProfile merges patch into the user's profile.
func (c *Coordinator) UpdateProfile(ctx context.Context, userId int64, patch map[string]interface{}) (*types.User, error) {
	return c.MutateUser(ctx, userId, func(u *types.User) error {
		return types.ApplyUserPatch(u, patch)
	})
}

// AddCoins credits n coins to the user. It waits for the user's guard, so a credit is never dropped.
func (c *Coordinator) AddCoins(ctx context.Context, userId int64, n int64) (*types.User, error) {
	return c.MutateUser(ctx, userId, func(u *types.User) error {
		u.Coins += n
		return nil
	})
}
