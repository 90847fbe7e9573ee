package persistence

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/types"
)

func configFor(typ, dsn string) config.PersistenceConfig {
	return config.PersistenceConfig{Type: typ, DSN: dsn}
}

func newSqliteStore(t *testing.T) Persister {
	p, err := NewPersister(configFor("sqlite", filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestGormUsers(t *testing.T) {
	p := newSqliteStore(t)

	_, err := p.GetUser(1)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = p.StoreUser(types.NewUser(1, "Ada"))
	require.NoError(t, err)
	_, err = p.StoreUser(types.User{Id: 1, Name: "Ada Lovelace", Coins: 3, Role: types.RoleAdmin})
	require.NoError(t, err)

	user, err := p.MergeUser(1, map[string]interface{}{"clickCount": 4})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", user.Name)
	assert.Equal(t, int64(3), user.Coins)
	assert.Equal(t, int64(4), user.ClickCount)

	_, err = p.MergeUser(2, map[string]interface{}{"name": "Grace"})
	require.NoError(t, err)

	users, err := p.GetUsers()
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestGormMessagesAndLikes(t *testing.T) {
	p := newSqliteStore(t)

	_, err := p.AddMessage(types.Message{Id: 5, UserId: 1, Text: "second", Timestamp: 20})
	require.NoError(t, err)
	_, err = p.AddMessage(types.Message{Id: 6, UserId: 1, Text: "first", Timestamp: 10})
	require.NoError(t, err)
	again, err := p.AddMessage(types.Message{Id: 5, UserId: 1, Text: "second", Timestamp: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.Id)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.LikeMessage(5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	messages, err := p.GetMessages()
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Text)
	assert.Equal(t, int64(20), messages[1].Likes)

	_, err = p.LikeMessage(404)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGormAddMessageIdCollision(t *testing.T) {
	testAddMessageIdCollision(t, newSqliteStore(t))
}

func TestGormPollsAndSchedule(t *testing.T) {
	p := newSqliteStore(t)
	require.NoError(t, SeedPolls(p, types.DefaultPolls()))

	poll, added, err := p.CompletePoll(2, 9)
	require.NoError(t, err)
	assert.True(t, added)
	_, added, err = p.CompletePoll(2, 9)
	require.NoError(t, err)
	assert.False(t, added)

	poll, err = p.GetPoll(2)
	require.NoError(t, err)
	assert.Equal(t, types.JSONInt64Slice{9}, poll.CompletedBy)
	assert.Len(t, poll.Options, 4)

	_, err = p.StoreScheduleItem(types.ScheduleItem{Id: 1, Day: 1, StartTime: "12:00", Title: "lunch"})
	require.NoError(t, err)
	_, err = p.StoreScheduleItem(types.ScheduleItem{Id: 2, Day: 1, StartTime: "09:00", Title: "keynote"})
	require.NoError(t, err)
	item, err := p.UpdateScheduleItem(1, map[string]interface{}{"speakers": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "lunch", item.Title)

	schedule, err := p.GetSchedule()
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.Equal(t, "keynote", schedule[0].Title)
	assert.Equal(t, "Ada", schedule[1].Speakers)

	assert.ErrorIs(t, p.DeleteScheduleItem(3), types.ErrNotFound)
	require.NoError(t, p.DeleteScheduleItem(2))
}
