package persistence

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-conference/types"
)

func newMemoryStore(t *testing.T) *BuntDBPersist {
	p, err := NewBuntPersister(MemoryPath, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestBuntUsers(t *testing.T) {
	p := newMemoryStore(t)

	_, err := p.GetUser(42)
	assert.ErrorIs(t, err, types.ErrNotFound)

	user, err := p.StoreUser(types.NewUser(42, "Ada"))
	require.NoError(t, err)
	assert.Equal(t, types.RoleParticipant, user.Role)

	merged, err := p.MergeUser(42, map[string]interface{}{"id": 7, "coins": 5.0, "location": "Hall A"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), merged.Id)
	assert.Equal(t, int64(5), merged.Coins)
	assert.Equal(t, "Hall A", merged.Location)
	assert.Equal(t, "Ada", merged.Name)

	merged, err = p.MergeUser(42, map[string]interface{}{"coins": 1, "clickCount": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), merged.Coins)
	assert.Equal(t, int64(2), merged.ClickCount)

	created, err := p.MergeUser(43, map[string]interface{}{"name": "Grace"})
	require.NoError(t, err)
	assert.Equal(t, int64(43), created.Id)
	assert.Equal(t, types.RoleParticipant, created.Role)

	_, err = p.MergeUser(42, map[string]interface{}{"coins": "many"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.NotErrorIs(t, err, types.ErrStorageFailure)

	users, err := p.GetUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(42), users[0].Id)
	assert.Equal(t, int64(43), users[1].Id)

	require.NoError(t, p.DeleteUser(43))
	assert.ErrorIs(t, p.DeleteUser(43), types.ErrNotFound)
}

func TestBuntMessages(t *testing.T) {
	p := newMemoryStore(t)

	late, err := p.StoreMessage(types.Message{Id: 2, UserId: 1, Text: "late", Timestamp: 2000})
	require.NoError(t, err)
	_, err = p.StoreMessage(types.Message{Id: 1, UserId: 1, Text: "early", Timestamp: 1000})
	require.NoError(t, err)

	generated, err := p.AddMessage(types.Message{UserId: 1, Text: "generated", Timestamp: 3000})
	require.NoError(t, err)
	assert.NotZero(t, generated.Id)

	existing, err := p.AddMessage(types.Message{Id: late.Id, UserId: 1, Text: "late", Timestamp: 2000, Likes: 9})
	require.NoError(t, err)
	assert.Equal(t, late.Id, existing.Id)
	assert.Zero(t, existing.Likes)

	messages, err := p.GetMessages()
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "early", messages[0].Text)
	assert.Equal(t, "late", messages[1].Text)
	assert.Equal(t, "generated", messages[2].Text)

	_, err = p.LikeMessage(999)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestBuntAddMessageIdCollision(t *testing.T) {
	testAddMessageIdCollision(t, newMemoryStore(t))
}

func TestBuntConcurrentLikes(t *testing.T) {
	p := newMemoryStore(t)
	_, err := p.StoreMessage(types.Message{Id: 1, Text: "hello", Timestamp: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.LikeMessage(1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	message, err := p.GetMessage(1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), message.Likes)
}

func TestBuntCompletePoll(t *testing.T) {
	p := newMemoryStore(t)
	require.NoError(t, SeedPolls(p, types.DefaultPolls()))

	poll, added, err := p.CompletePoll(1, 42)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, types.JSONInt64Slice{42}, poll.CompletedBy)

	poll, added, err = p.CompletePoll(1, 42)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, types.JSONInt64Slice{42}, poll.CompletedBy)

	_, _, err = p.CompletePoll(99, 42)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSeedPollsOnlyOnce(t *testing.T) {
	p := newMemoryStore(t)
	require.NoError(t, SeedPolls(p, types.DefaultPolls()))
	_, _, err := p.CompletePoll(2, 7)
	require.NoError(t, err)

	require.NoError(t, SeedPolls(p, types.DefaultPolls()))
	polls, err := p.GetPolls()
	require.NoError(t, err)
	require.Len(t, polls, 2)
	assert.Equal(t, int64(1), polls[0].Id)
	assert.Equal(t, types.JSONInt64Slice{7}, polls[1].CompletedBy)
}

func TestBuntSchedule(t *testing.T) {
	p := newMemoryStore(t)
	items := []types.ScheduleItem{
		{Id: 1, Day: 2, StartTime: "09:00", Title: "second day"},
		{Id: 2, Day: 1, StartTime: "14:00", Title: "afternoon"},
		{Id: 3, Day: 1, StartTime: "10:00", Title: "morning"},
	}
	for _, item := range items {
		_, err := p.StoreScheduleItem(item)
		require.NoError(t, err)
	}

	schedule, err := p.GetSchedule()
	require.NoError(t, err)
	require.Len(t, schedule, 3)
	assert.Equal(t, "morning", schedule[0].Title)
	assert.Equal(t, "afternoon", schedule[1].Title)
	assert.Equal(t, "second day", schedule[2].Title)

	updated, err := p.UpdateScheduleItem(2, map[string]interface{}{"startTime": "08:00", "location": "Hall B"})
	require.NoError(t, err)
	assert.Equal(t, "afternoon", updated.Title)
	assert.Equal(t, "Hall B", updated.Location)

	schedule, err = p.GetSchedule()
	require.NoError(t, err)
	assert.Equal(t, int64(2), schedule[0].Id)

	_, err = p.UpdateScheduleItem(99, map[string]interface{}{"title": "x"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, p.DeleteScheduleItem(3))
	assert.ErrorIs(t, p.DeleteScheduleItem(3), types.ErrNotFound)

	generated, err := p.StoreScheduleItem(types.ScheduleItem{Day: 3, StartTime: "11:00", Title: "new"})
	require.NoError(t, err)
	assert.NotZero(t, generated.Id)
}

func TestBuntFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conference.db")
	p, err := NewBuntPersister(path, "")
	require.NoError(t, err)

	_, err = NewBuntPersister(path, "")
	assert.Error(t, err)

	_, err = p.StoreUser(types.NewUser(1, "Ada"))
	require.NoError(t, err)
	require.NoError(t, p.Compact())
	require.NoError(t, p.Close())

	reopened, err := NewBuntPersister(path, "")
	require.NoError(t, err)
	defer reopened.Close()
	user, err := reopened.GetUser(1)
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Name)
}

func TestNewPersisterUnknownType(t *testing.T) {
	_, err := NewPersister(configFor("redis", ""))
	assert.Error(t, err)
}

func testAddMessageIdCollision(t *testing.T, p Persister) {
	alice, err := p.AddMessage(types.Message{Id: 1700000000000, UserId: 1, Text: "from alice", Timestamp: 1700000000000})
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), alice.Id)

	bobMessage := types.Message{Id: 1700000000000, UserId: 2, Text: "from bob", Timestamp: 1700000000000}
	bob, err := p.AddMessage(bobMessage)
	require.NoError(t, err)
	assert.NotEqual(t, alice.Id, bob.Id)
	assert.Equal(t, int64(2), bob.UserId)
	assert.Equal(t, "from bob", bob.Text)

	// the same message sent again resolves to the stored copy
	again, err := p.AddMessage(bobMessage)
	require.NoError(t, err)
	assert.Equal(t, bob.Id, again.Id)

	stored, err := p.GetMessage(alice.Id)
	require.NoError(t, err)
	assert.Equal(t, "from alice", stored.Text)

	messages, err := p.GetMessages()
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	require.NoError(t, p.DeleteMessage(bob.Id))
	assert.ErrorIs(t, p.DeleteMessage(bob.Id), types.ErrNotFound)
}
