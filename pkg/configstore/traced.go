package configstore

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/cortexproject/amconfig/pkg/models"
)

// traced adds log trace lines on each store call.
type traced struct {
	s      Store
	logger log.Logger
}

// NewTraced wraps a store with debug tracing.
func NewTraced(s Store, logger log.Logger) Store {
	return traced{s: s, logger: logger}
}

func (t traced) trace(name string, args ...interface{}) {
	level.Debug(t.logger).Log("msg", fmt.Sprintf("%s: %#v", name, args))
}

func (t traced) GetLatest(ctx context.Context, orgID int64) (l LatestLookup, err error) {
	defer func() { t.trace("GetLatest", orgID, l.Found(), err) }()
	return t.s.GetLatest(ctx, orgID)
}

func (t traced) GetHistorical(ctx context.Context, orgID int64, id int64) (cfg *models.HistoricConfiguration, err error) {
	defer func() { t.trace("GetHistorical", orgID, id, err) }()
	return t.s.GetHistorical(ctx, orgID, id)
}

func (t traced) GetApplied(ctx context.Context, orgID int64, limit int) (cfgs []*models.HistoricConfiguration, err error) {
	defer func() { t.trace("GetApplied", orgID, limit, len(cfgs), err) }()
	return t.s.GetApplied(ctx, orgID, limit)
}

func (t traced) Save(ctx context.Context, cmd *models.SaveConfigurationCommand) (err error) {
	defer func() { t.trace("Save", cmd.OrgID, cmd.Default, err) }()
	return t.s.Save(ctx, cmd)
}
