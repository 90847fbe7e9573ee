package persistence

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/types"
	"github.com/tidwall/buntdb"
)

const (
	// MemoryPath opens a buntdb store that lives only in memory.
	MemoryPath = ":memory:"

	userPrefix     = "user:"
	messagePrefix  = "message:"
	pollPrefix     = "poll:"
	schedulePrefix = "schedule:"

	messagesIndex = "messages_ts"
	scheduleIndex = "schedule_order"
)

// BuntDBPersist stores every record as a JSON value under "<collection>:<id>". Each mutation runs in a single
// buntdb write transaction, which makes read-modify-write operations atomic.
type BuntDBPersist struct {
	db   *buntdb.DB
	lock *flock.Flock
}

var _ Persister = &BuntDBPersist{}
var _ Compactor = &BuntDBPersist{}

// NewBuntPersister opens the buntdb store at path (MemoryPath for an in-memory store). File-backed stores are
// guarded by an exclusive lock file at lockPath (path + ".lock" if empty).
func NewBuntPersister(path, lockPath string) (*BuntDBPersist, error) {
	var lock *flock.Flock
	if path != MemoryPath {
		if lockPath == "" {
			lockPath = path + ".lock"
		}
		lock = flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, errors.Wrapf(err, "could not lock %s", lockPath)
		}
		if !locked {
			return nil, fmt.Errorf("store %s is in use by another process (lock file %s)", path, lockPath)
		}
	}
	db, err := setupBuntDB(path)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}
	return &BuntDBPersist{db: db, lock: lock}, nil
}

func setupBuntDB(path string) (*buntdb.DB, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex(messagesIndex, messagePrefix+"*", buntdb.IndexJSON("timestamp"), buntdb.IndexJSON("id"))
	if err != nil {
		db.Close()
		return nil, err
	}
	err = db.CreateIndex(scheduleIndex, schedulePrefix+"*", buntdb.IndexJSON("day"), buntdb.IndexJSON("startTime"), buntdb.IndexJSON("id"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func key(prefix string, id int64) string {
	return fmt.Sprintf("%s%d", prefix, id)
}

func getJSON(tx *buntdb.Tx, k string, v interface{}) error {
	val, err := tx.Get(k)
	if err != nil {
		if err == buntdb.ErrNotFound {
			return types.ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(val), v)
}

func setJSON(tx *buntdb.Tx, k string, v interface{}) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(k, string(val), nil)
	return err
}

func deleteKey(tx *buntdb.Tx, k string) error {
	_, err := tx.Delete(k)
	if err == buntdb.ErrNotFound {
		return types.ErrNotFound
	}
	return err
}

func (p *BuntDBPersist) GetUser(id int64) (*types.User, error) {
	user := &types.User{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, key(userPrefix, id), user)
	})
	if err != nil {
		return nil, types.NewStorageError("get", types.CollectionUsers, err)
	}
	return user, nil
}

func (p *BuntDBPersist) StoreUser(user types.User) (*types.User, error) {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, key(userPrefix, user.Id), user)
	})
	if err != nil {
		return nil, types.NewStorageError("put", types.CollectionUsers, err)
	}
	return &user, nil
}

func (p *BuntDBPersist) MergeUser(id int64, patch map[string]interface{}) (*types.User, error) {
	user := &types.User{}
	err := p.db.Update(func(tx *buntdb.Tx) error {
		err := getJSON(tx, key(userPrefix, id), user)
		if err == types.ErrNotFound {
			*user = types.User{Id: id, Role: types.RoleParticipant}
		} else if err != nil {
			return err
		}
		if err := mergeUserPatch(user, patch); err != nil {
			return err
		}
		return setJSON(tx, key(userPrefix, id), user)
	})
	if err != nil {
		return nil, types.NewStorageError("merge", types.CollectionUsers, err)
	}
	return user, nil
}

func (p *BuntDBPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys(userPrefix+"*", func(k, val string) bool {
			user := &types.User{}
			if decodeErr = json.Unmarshal([]byte(val), user); decodeErr != nil {
				return false
			}
			users = append(users, user)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, types.NewStorageError("list", types.CollectionUsers, err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Id < users[j].Id })
	return users, nil
}

func (p *BuntDBPersist) DeleteUser(id int64) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		return deleteKey(tx, key(userPrefix, id))
	})
	return types.NewStorageError("delete", types.CollectionUsers, err)
}

func (p *BuntDBPersist) GetMessage(id int64) (*types.Message, error) {
	message := &types.Message{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, key(messagePrefix, id), message)
	})
	if err != nil {
		return nil, types.NewStorageError("get", types.CollectionMessages, err)
	}
	return message, nil
}

func (p *BuntDBPersist) StoreMessage(message types.Message) (*types.Message, error) {
	if message.Id == 0 {
		message.Id = types.NewID()
	}
	err := p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, key(messagePrefix, message.Id), message)
	})
	if err != nil {
		return nil, types.NewStorageError("put", types.CollectionMessages, err)
	}
	return &message, nil
}

func (p *BuntDBPersist) AddMessage(message types.Message) (*types.Message, error) {
	if message.Id == 0 {
		message.Id = types.NewID()
	}
	stored := &types.Message{}
	err := p.db.Update(func(tx *buntdb.Tx) error {
		err := getJSON(tx, key(messagePrefix, message.Id), stored)
		if err == nil {
			if stored.SameAs(message) {
				return nil
			}
			// the id belongs to another message
			found, err := findMessage(tx, message)
			if err != nil {
				return err
			}
			if found != nil {
				*stored = *found
				return nil
			}
			if message.Id, err = freeMessageId(tx); err != nil {
				return err
			}
		} else if err != types.ErrNotFound {
			return err
		}
		*stored = message
		return setJSON(tx, key(messagePrefix, message.Id), message)
	})
	if err != nil {
		return nil, types.NewStorageError("add", types.CollectionMessages, err)
	}
	return stored, nil
}

// findMessage looks up a message that was already added under another id, using the timestamp index.
func findMessage(tx *buntdb.Tx, message types.Message) (*types.Message, error) {
	var found *types.Message
	var decodeErr error
	pivot := fmt.Sprintf(`{"timestamp":%d}`, message.Timestamp)
	err := tx.AscendGreaterOrEqual(messagesIndex, pivot, func(k, val string) bool {
		candidate := types.Message{}
		if decodeErr = json.Unmarshal([]byte(val), &candidate); decodeErr != nil {
			return false
		}
		if candidate.Timestamp != message.Timestamp {
			return false
		}
		if candidate.SameAs(message) {
			found = &candidate
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return found, decodeErr
}

func freeMessageId(tx *buntdb.Tx) (int64, error) {
	for {
		id := types.NewID()
		_, err := tx.Get(key(messagePrefix, id))
		if err == buntdb.ErrNotFound {
			return id, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func (p *BuntDBPersist) GetMessages() ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.Ascend(messagesIndex, func(k, val string) bool {
			message := &types.Message{}
			if decodeErr = json.Unmarshal([]byte(val), message); decodeErr != nil {
				return false
			}
			messages = append(messages, message)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, types.NewStorageError("list", types.CollectionMessages, err)
	}
	return messages, nil
}

func (p *BuntDBPersist) LikeMessage(id int64) (*types.Message, error) {
	message := &types.Message{}
	err := p.db.Update(func(tx *buntdb.Tx) error {
		if err := getJSON(tx, key(messagePrefix, id), message); err != nil {
			return err
		}
		message.Likes++
		return setJSON(tx, key(messagePrefix, id), message)
	})
	if err != nil {
		return nil, types.NewStorageError("like", types.CollectionMessages, err)
	}
	return message, nil
}

func (p *BuntDBPersist) DeleteMessage(id int64) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		return deleteKey(tx, key(messagePrefix, id))
	})
	return types.NewStorageError("delete", types.CollectionMessages, err)
}

func (p *BuntDBPersist) GetPoll(id int64) (*types.Poll, error) {
	poll := &types.Poll{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, key(pollPrefix, id), poll)
	})
	if err != nil {
		return nil, types.NewStorageError("get", types.CollectionPolls, err)
	}
	return poll, nil
}

func (p *BuntDBPersist) StorePoll(poll types.Poll) (*types.Poll, error) {
	if poll.Id == 0 {
		poll.Id = types.NewID()
	}
	err := p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, key(pollPrefix, poll.Id), poll)
	})
	if err != nil {
		return nil, types.NewStorageError("put", types.CollectionPolls, err)
	}
	return &poll, nil
}

func (p *BuntDBPersist) GetPolls() ([]*types.Poll, error) {
	polls := make([]*types.Poll, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys(pollPrefix+"*", func(k, val string) bool {
			poll := &types.Poll{}
			if decodeErr = json.Unmarshal([]byte(val), poll); decodeErr != nil {
				return false
			}
			polls = append(polls, poll)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, types.NewStorageError("list", types.CollectionPolls, err)
	}
	sort.Slice(polls, func(i, j int) bool { return polls[i].Id < polls[j].Id })
	return polls, nil
}

func (p *BuntDBPersist) CompletePoll(pollId, userId int64) (*types.Poll, bool, error) {
	poll := &types.Poll{}
	added := false
	err := p.db.Update(func(tx *buntdb.Tx) error {
		if err := getJSON(tx, key(pollPrefix, pollId), poll); err != nil {
			return err
		}
		if added = poll.Complete(userId); !added {
			return nil
		}
		return setJSON(tx, key(pollPrefix, pollId), poll)
	})
	if err != nil {
		return nil, false, types.NewStorageError("complete", types.CollectionPolls, err)
	}
	return poll, added, nil
}

func (p *BuntDBPersist) GetScheduleItem(id int64) (*types.ScheduleItem, error) {
	item := &types.ScheduleItem{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, key(schedulePrefix, id), item)
	})
	if err != nil {
		return nil, types.NewStorageError("get", types.CollectionSchedule, err)
	}
	return item, nil
}

func (p *BuntDBPersist) StoreScheduleItem(item types.ScheduleItem) (*types.ScheduleItem, error) {
	if item.Id == 0 {
		item.Id = types.NewID()
	}
	err := p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, key(schedulePrefix, item.Id), item)
	})
	if err != nil {
		return nil, types.NewStorageError("put", types.CollectionSchedule, err)
	}
	return &item, nil
}

func (p *BuntDBPersist) UpdateScheduleItem(id int64, patch map[string]interface{}) (*types.ScheduleItem, error) {
	item := &types.ScheduleItem{}
	err := p.db.Update(func(tx *buntdb.Tx) error {
		if err := getJSON(tx, key(schedulePrefix, id), item); err != nil {
			return err
		}
		if err := types.ApplySchedulePatch(item, patch); err != nil {
			return err
		}
		return setJSON(tx, key(schedulePrefix, id), item)
	})
	if err != nil {
		return nil, types.NewStorageError("update", types.CollectionSchedule, err)
	}
	return item, nil
}

func (p *BuntDBPersist) GetSchedule() ([]*types.ScheduleItem, error) {
	items := make([]*types.ScheduleItem, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.Ascend(scheduleIndex, func(k, val string) bool {
			item := &types.ScheduleItem{}
			if decodeErr = json.Unmarshal([]byte(val), item); decodeErr != nil {
				return false
			}
			items = append(items, item)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, types.NewStorageError("list", types.CollectionSchedule, err)
	}
	return items, nil
}

func (p *BuntDBPersist) DeleteScheduleItem(id int64) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		return deleteKey(tx, key(schedulePrefix, id))
	})
	return types.NewStorageError("delete", types.CollectionSchedule, err)
}

// Compact rewrites the append-only file of a file-backed store.
func (p *BuntDBPersist) Compact() error {
	err := p.db.Shrink()
	if err == buntdb.ErrShrinkInProcess || err == nil {
		return nil
	}
	return err
}

func (p *BuntDBPersist) Close() error {
	err := p.db.Close()
	if p.lock != nil {
		if unlockErr := p.lock.Unlock(); unlockErr != nil {
			globals.AppLogger.Error("could not release store lock", "path", p.lock.Path(), "error", unlockErr)
		}
	}
	return err
}
