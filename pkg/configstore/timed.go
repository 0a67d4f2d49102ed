package configstore

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/weaveworks/common/instrument"

	"github.com/cortexproject/amconfig/pkg/models"
)

// timed adds prometheus timings to another store implementation.
type timed struct {
	s        Store
	duration *instrument.HistogramCollector
}

// NewTimed wraps a store with request-duration instrumentation.
func NewTimed(s Store, reg prometheus.Registerer) Store {
	return timed{
		s: s,
		duration: instrument.NewHistogramCollector(promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amconfig",
			Name:      "configstore_request_duration_seconds",
			Help:      "Time spent (in seconds) doing configuration store requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status_code"})),
	}
}

func (t timed) GetLatest(ctx context.Context, orgID int64) (l LatestLookup, err error) {
	err = instrument.CollectedRequest(ctx, "GetLatest", t.duration, instrument.ErrorCode, func(ctx context.Context) error {
		l, err = t.s.GetLatest(ctx, orgID)
		return err
	})
	return
}

func (t timed) GetHistorical(ctx context.Context, orgID int64, id int64) (cfg *models.HistoricConfiguration, err error) {
	err = instrument.CollectedRequest(ctx, "GetHistorical", t.duration, instrument.ErrorCode, func(ctx context.Context) error {
		cfg, err = t.s.GetHistorical(ctx, orgID, id)
		return err
	})
	return
}

func (t timed) GetApplied(ctx context.Context, orgID int64, limit int) (cfgs []*models.HistoricConfiguration, err error) {
	err = instrument.CollectedRequest(ctx, "GetApplied", t.duration, instrument.ErrorCode, func(ctx context.Context) error {
		cfgs, err = t.s.GetApplied(ctx, orgID, limit)
		return err
	})
	return
}

func (t timed) Save(ctx context.Context, cmd *models.SaveConfigurationCommand) error {
	return instrument.CollectedRequest(ctx, "Save", t.duration, instrument.ErrorCode, func(ctx context.Context) error {
		return t.s.Save(ctx, cmd)
	})
}
