package persistence

import (
	"github.com/tcriess/lightspeed-conference/merge"
	"github.com/tcriess/lightspeed-conference/types"
)

// Persister is the record store for the four collections. All operations are atomic per entity. A missing entity
// is reported as types.ErrNotFound, every other failure as a *types.StorageError.
type Persister interface {
	GetUser(int64) (*types.User, error)
	// StoreUser inserts the user or replaces it wholesale.
	StoreUser(types.User) (*types.User, error)
	// MergeUser applies the fields present in patch to the stored user, inserting it if it does not exist yet. The
	// coins and clickCount counters never decrease.
	MergeUser(int64, map[string]interface{}) (*types.User, error)
	GetUsers() ([]*types.User, error)
	DeleteUser(int64) error

	GetMessage(int64) (*types.Message, error)
	// StoreMessage inserts the message or replaces it wholesale. A message with id 0 gets a new id.
	StoreMessage(types.Message) (*types.Message, error)
	// AddMessage inserts the message and returns the stored message. A message that was already added (see
	// types.Message.SameAs) is returned unchanged. If the id is taken by a different message, the message is stored
	// under a new id.
	AddMessage(types.Message) (*types.Message, error)
	// GetMessages returns all messages in ascending timestamp order.
	GetMessages() ([]*types.Message, error)
	// LikeMessage increments the likes of the message by one in a single read-modify-write.
	LikeMessage(int64) (*types.Message, error)
	DeleteMessage(int64) error

	GetPoll(int64) (*types.Poll, error)
	StorePoll(types.Poll) (*types.Poll, error)
	GetPolls() ([]*types.Poll, error)
	// CompletePoll adds the user to the poll's completedBy set. added is false if the user was already present.
	CompletePoll(pollId, userId int64) (poll *types.Poll, added bool, err error)

	GetScheduleItem(int64) (*types.ScheduleItem, error)
	// StoreScheduleItem inserts the item or replaces it wholesale. An item with id 0 gets a new id.
	StoreScheduleItem(types.ScheduleItem) (*types.ScheduleItem, error)
	// UpdateScheduleItem merges only the fields present in patch into the stored item.
	UpdateScheduleItem(int64, map[string]interface{}) (*types.ScheduleItem, error)
	// GetSchedule returns all items ordered by day and start time.
	GetSchedule() ([]*types.ScheduleItem, error)
	DeleteScheduleItem(int64) error

	Close() error
}

// Compactor is implemented by stores that can reclaim space.
type Compactor interface {
	Compact() error
}

// mergeUserPatch applies patch to user, keeping the larger of the old and the patched counters.
func mergeUserPatch(user *types.User, patch map[string]interface{}) error {
	patched := *user
	if err := types.ApplyUserPatch(&patched, patch); err != nil {
		return err
	}
	*user = merge.Users(*user, patched)
	return nil
}
