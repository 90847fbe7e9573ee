package persistence

import (
	"fmt"

	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/types"
)

// NewPersister opens the record store selected by cfg.Type.
func NewPersister(cfg config.PersistenceConfig) (Persister, error) {
	switch cfg.Type {
	case "", "buntdb":
		return NewBuntPersister(cfg.DSN, cfg.LockPath)

	case "memory":
		return NewBuntPersister(MemoryPath, "")

	case "sqlite", "postgres":
		return NewGormPersister(cfg.Type, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
}

// SeedPolls stores polls if the poll collection is still empty. Existing polls are never touched.
func SeedPolls(p Persister, polls []types.Poll) error {
	existing, err := p.GetPolls()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, poll := range polls {
		if poll.CompletedBy == nil {
			poll.CompletedBy = types.JSONInt64Slice{}
		}
		if _, err := p.StorePoll(poll); err != nil {
			return err
		}
	}
	globals.AppLogger.Info("seeded polls", "count", len(polls))
	return nil
}
