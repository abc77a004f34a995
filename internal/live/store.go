package live

import (
	"context"

	"github.com/byebiz/layerone/internal/model"
	"github.com/byebiz/layerone/internal/store"
)

// Store decorates a store.Store so that every successful mutation publishes
// the resulting snapshot to the bus. Reads pass straight through.
type Store struct {
	store.Store
	bus *Bus
}

// WrapStore returns a Store publishing into bus.
func WrapStore(s store.Store, bus *Bus) *Store {
	return &Store{Store: s, bus: bus}
}

func (s *Store) CreateRecord(ctx context.Context, intake model.Intake) (*model.Record, error) {
	rec, err := s.Store.CreateRecord(ctx, intake)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(*rec)
	return rec, nil
}

func (s *Store) ApplyPatch(ctx context.Context, id string, patch model.Patch) (*model.Record, error) {
	rec, err := s.Store.ApplyPatch(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(*rec)
	return rec, nil
}
