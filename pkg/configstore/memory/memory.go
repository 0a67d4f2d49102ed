// Package memory holds the in-memory configuration store, for tests and
// single-binary development setups.
package memory

import (
	"context"
	"crypto/md5"
	"fmt"
	"sync"
	"time"

	"github.com/cortexproject/amconfig/pkg/configstore"
	"github.com/cortexproject/amconfig/pkg/models"
)

// Store is an in-memory configstore.Store. All mutations are serialized by a
// single mutex, which also gives InTransaction its atomicity.
type Store struct {
	mtx    sync.Mutex
	rows   map[int64][]*models.HistoricConfiguration
	nextID int64
}

func New() *Store {
	return &Store{rows: map[int64][]*models.HistoricConfiguration{}, nextID: 1}
}

func (s *Store) GetLatest(_ context.Context, orgID int64) (configstore.LatestLookup, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	rows := s.rows[orgID]
	if len(rows) == 0 {
		return configstore.LatestLookup{}, nil
	}
	cfg := rows[len(rows)-1].AlertConfiguration
	return configstore.LatestLookup{Config: &cfg}, nil
}

func (s *Store) GetHistorical(_ context.Context, orgID int64, id int64) (*models.HistoricConfiguration, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, row := range s.rows[orgID] {
		if row.ID == id {
			cp := *row
			return &cp, nil
		}
	}
	return nil, configstore.ErrNotFound
}

func (s *Store) GetApplied(_ context.Context, orgID int64, limit int) ([]*models.HistoricConfiguration, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	rows := s.rows[orgID]
	if limit <= 0 || limit > len(rows) {
		limit = len(rows)
	}
	out := make([]*models.HistoricConfiguration, 0, limit)
	for i := len(rows) - 1; i >= len(rows)-limit; i-- {
		cp := *rows[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) Save(_ context.Context, cmd *models.SaveConfigurationCommand) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	now := time.Now().Unix()
	applied := cmd.LastApplied
	if applied == 0 {
		applied = now
	}
	row := &models.HistoricConfiguration{
		AlertConfiguration: models.AlertConfiguration{
			ID:                        s.nextID,
			OrgID:                     cmd.OrgID,
			AlertmanagerConfiguration: cmd.AlertmanagerConfiguration,
			ConfigurationHash:         fmt.Sprintf("%x", md5.Sum([]byte(cmd.AlertmanagerConfiguration))),
			ConfigurationVersion:      cmd.ConfigurationVersion,
			CreatedAt:                 now,
			Default:                   cmd.Default,
		},
		LastApplied: applied,
	}
	s.nextID++
	s.rows[cmd.OrgID] = append(s.rows[cmd.OrgID], row)
	return nil
}

// InTransaction runs fn while holding no store locks; the store's mutations
// are individually atomic and the in-memory backend offers no rollback, which
// matches what tests need from it.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
