package configstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cortexproject/amconfig/pkg/models"
)

// ErrNotFound is returned when a requested historical configuration row does
// not exist.
var ErrNotFound = errors.New("configuration not found")

// LatestLookup is the result of looking up an org's latest configuration.
// Absence of a configuration is an ordinary outcome, not an error: the error
// return of GetLatest reports store failures only.
type LatestLookup struct {
	Config *models.AlertConfiguration
}

// Found reports whether the org has any configuration at all.
func (l LatestLookup) Found() bool { return l.Config != nil }

// Store persists Alertmanager configuration revisions per org. Rows are
// immutable and history is append-only; "latest" is the most recent
// successfully applied row.
type Store interface {
	// GetLatest returns the latest applied configuration for the org.
	GetLatest(ctx context.Context, orgID int64) (LatestLookup, error)

	// GetHistorical returns a specific applied revision by history id.
	// Returns ErrNotFound when the row does not exist for the org.
	GetHistorical(ctx context.Context, orgID int64, id int64) (*models.HistoricConfiguration, error)

	// GetApplied returns up to limit most recent applied revisions, newest
	// first.
	GetApplied(ctx context.Context, orgID int64, limit int) ([]*models.HistoricConfiguration, error)

	// Save appends a new configuration revision and marks it applied.
	Save(ctx context.Context, cmd *models.SaveConfigurationCommand) error
}
