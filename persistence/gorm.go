package persistence

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormPersist struct {
	db *gorm.DB
}

var _ Persister = &GormPersist{}

// NewGormPersister opens a sqlite or postgres database and migrates the four collection tables.
func NewGormPersister(dbType, dsn string) (*GormPersist, error) {
	db, err := setupGormDB(dbType, dsn)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db}, nil
}

func setupGormDB(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("no dsn configured for %s", dbType)
	}
	var dial gorm.Dialector
	switch dbType {
	case "postgres":
		dial = postgres.Open(dsn)

	case "sqlite":
		dial = sqlite.Open(dsn)

	default:
		return nil, fmt.Errorf("invalid gorm configuration: unknown type %q", dbType)
	}
	gormLogger := logger.New(
		globals.AppLogger.Named("gorm").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(dial, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	if dbType == "sqlite" {
		// sqlite allows a single writer, one connection serializes all transactions
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.AutoMigrate(&types.User{}, &types.Message{}, &types.Poll{}, &types.ScheduleItem{})
	if err != nil {
		return nil, errors.Wrap(err, "could not migrate")
	}
	return db, nil
}

func gormErr(op string, collection types.Collection, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.ErrNotFound
	}
	return types.NewStorageError(op, collection, err)
}

// forUpdate locks the selected row for the rest of the transaction where the dialect supports it.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (p *GormPersist) GetUser(id int64) (*types.User, error) {
	user := &types.User{}
	if err := p.db.First(user, id).Error; err != nil {
		return nil, gormErr("get", types.CollectionUsers, err)
	}
	return user, nil
}

func (p *GormPersist) StoreUser(user types.User) (*types.User, error) {
	if err := p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&user).Error; err != nil {
		return nil, gormErr("put", types.CollectionUsers, err)
	}
	return &user, nil
}

func (p *GormPersist) MergeUser(id int64, patch map[string]interface{}) (*types.User, error) {
	user := &types.User{}
	err := p.db.Transaction(func(tx *gorm.DB) error {
		err := forUpdate(tx).First(user, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			*user = types.User{Id: id, Role: types.RoleParticipant}
			if err := mergeUserPatch(user, patch); err != nil {
				return err
			}
			return tx.Create(user).Error
		}
		if err != nil {
			return err
		}
		if err := mergeUserPatch(user, patch); err != nil {
			return err
		}
		return tx.Save(user).Error
	})
	if err != nil {
		return nil, gormErr("merge", types.CollectionUsers, err)
	}
	return user, nil
}

func (p *GormPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	if err := p.db.Order("id").Find(&users).Error; err != nil {
		return nil, gormErr("list", types.CollectionUsers, err)
	}
	return users, nil
}

func (p *GormPersist) DeleteUser(id int64) error {
	res := p.db.Delete(&types.User{}, id)
	if res.Error != nil {
		return gormErr("delete", types.CollectionUsers, res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (p *GormPersist) GetMessage(id int64) (*types.Message, error) {
	message := &types.Message{}
	if err := p.db.First(message, id).Error; err != nil {
		return nil, gormErr("get", types.CollectionMessages, err)
	}
	return message, nil
}

func (p *GormPersist) StoreMessage(message types.Message) (*types.Message, error) {
	if message.Id == 0 {
		message.Id = types.NewID()
	}
	if err := p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&message).Error; err != nil {
		return nil, gormErr("put", types.CollectionMessages, err)
	}
	return &message, nil
}

func (p *GormPersist) AddMessage(message types.Message) (*types.Message, error) {
	if message.Id == 0 {
		message.Id = types.NewID()
	}
	stored := &types.Message{}
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&message).Error; err != nil {
			return err
		}
		if err := tx.First(stored, message.Id).Error; err != nil {
			return err
		}
		if stored.SameAs(message) {
			return nil
		}
		// the id belongs to another message
		found := &types.Message{}
		err := tx.Where(map[string]interface{}{
			"user_id":   message.UserId,
			"timestamp": message.Timestamp,
			"text":      message.Text,
		}).First(found).Error
		if err == nil {
			*stored = *found
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		for {
			message.Id = types.NewID()
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&message)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				*stored = message
				return nil
			}
		}
	})
	if err != nil {
		return nil, gormErr("add", types.CollectionMessages, err)
	}
	return stored, nil
}

func (p *GormPersist) GetMessages() ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	if err := p.db.Order("timestamp, id").Find(&messages).Error; err != nil {
		return nil, gormErr("list", types.CollectionMessages, err)
	}
	return messages, nil
}

func (p *GormPersist) LikeMessage(id int64) (*types.Message, error) {
	message := &types.Message{}
	err := p.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&types.Message{}).Where("id = ?", id).UpdateColumn("likes", gorm.Expr("likes + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.ErrNotFound
		}
		return tx.First(message, id).Error
	})
	if err != nil {
		return nil, gormErr("like", types.CollectionMessages, err)
	}
	return message, nil
}

func (p *GormPersist) DeleteMessage(id int64) error {
	res := p.db.Delete(&types.Message{}, id)
	if res.Error != nil {
		return gormErr("delete", types.CollectionMessages, res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (p *GormPersist) GetPoll(id int64) (*types.Poll, error) {
	poll := &types.Poll{}
	if err := p.db.First(poll, id).Error; err != nil {
		return nil, gormErr("get", types.CollectionPolls, err)
	}
	return poll, nil
}

func (p *GormPersist) StorePoll(poll types.Poll) (*types.Poll, error) {
	if poll.Id == 0 {
		poll.Id = types.NewID()
	}
	if err := p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&poll).Error; err != nil {
		return nil, gormErr("put", types.CollectionPolls, err)
	}
	return &poll, nil
}

func (p *GormPersist) GetPolls() ([]*types.Poll, error) {
	polls := make([]*types.Poll, 0)
	if err := p.db.Order("id").Find(&polls).Error; err != nil {
		return nil, gormErr("list", types.CollectionPolls, err)
	}
	return polls, nil
}

func (p *GormPersist) CompletePoll(pollId, userId int64) (*types.Poll, bool, error) {
	poll := &types.Poll{}
	added := false
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(poll, pollId).Error; err != nil {
			return err
		}
		if added = poll.Complete(userId); !added {
			return nil
		}
		return tx.Model(poll).UpdateColumn("completed_by", poll.CompletedBy).Error
	})
	if err != nil {
		return nil, false, gormErr("complete", types.CollectionPolls, err)
	}
	return poll, added, nil
}

func (p *GormPersist) GetScheduleItem(id int64) (*types.ScheduleItem, error) {
	item := &types.ScheduleItem{}
	if err := p.db.First(item, id).Error; err != nil {
		return nil, gormErr("get", types.CollectionSchedule, err)
	}
	return item, nil
}

func (p *GormPersist) StoreScheduleItem(item types.ScheduleItem) (*types.ScheduleItem, error) {
	if item.Id == 0 {
		item.Id = types.NewID()
	}
	if err := p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&item).Error; err != nil {
		return nil, gormErr("put", types.CollectionSchedule, err)
	}
	return &item, nil
}

func (p *GormPersist) UpdateScheduleItem(id int64, patch map[string]interface{}) (*types.ScheduleItem, error) {
	item := &types.ScheduleItem{}
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(item, id).Error; err != nil {
			return err
		}
		if err := types.ApplySchedulePatch(item, patch); err != nil {
			return err
		}
		return tx.Save(item).Error
	})
	if err != nil {
		return nil, gormErr("update", types.CollectionSchedule, err)
	}
	return item, nil
}

func (p *GormPersist) GetSchedule() ([]*types.ScheduleItem, error) {
	items := make([]*types.ScheduleItem, 0)
	if err := p.db.Order("day, start_time, id").Find(&items).Error; err != nil {
		return nil, gormErr("list", types.CollectionSchedule, err)
	}
	return items, nil
}

func (p *GormPersist) DeleteScheduleItem(id int64) error {
	res := p.db.Delete(&types.ScheduleItem{}, id)
	if res.Error != nil {
		return gormErr("delete", types.CollectionSchedule, res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
