package provisioning

import (
	"context"
	"fmt"
	"sync"

	"github.com/cortexproject/amconfig/pkg/models"
)

// ProvisioningStore tracks the provenance tag of every provisionable
// resource, keyed by org, resource type and resource id.
type ProvisioningStore interface {
	GetProvenance(ctx context.Context, o models.Provisionable, orgID int64) (models.Provenance, error)
	GetProvenances(ctx context.Context, orgID int64, resourceType string) (map[string]models.Provenance, error)
	SetProvenance(ctx context.Context, o models.Provisionable, orgID int64, p models.Provenance) error
	DeleteProvenance(ctx context.Context, o models.Provisionable, orgID int64) error
}

// TransactionManager scopes a function to a single transactional boundary:
// either every store write inside it becomes durable, or none does.
type TransactionManager interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProvenanceStatusTransitionValidator checks that a mutation arriving with
// provenance "to" may touch a resource currently tagged "from".
type ProvenanceStatusTransitionValidator func(from, to models.Provenance) error

// ValidateProvenanceRelaxed allows any transition except unguarded writes to
// file-provisioned resources: those are owned by the provisioning files and
// API callers must not silently overwrite them.
func ValidateProvenanceRelaxed(from, to models.Provenance) error {
	if from == models.ProvenanceFile && to != models.ProvenanceFile {
		return fmt.Errorf("%w: resource with provenance status %q cannot be managed via provenance %q",
			ErrProvenanceChangeNotAllowed, from, to)
	}
	return nil
}

// InMemProvisioningStore is a map-backed ProvisioningStore for tests and
// single-binary setups.
type InMemProvisioningStore struct {
	mtx     sync.Mutex
	records map[string]models.Provenance
}

func NewInMemProvisioningStore() *InMemProvisioningStore {
	return &InMemProvisioningStore{records: map[string]models.Provenance{}}
}

func provenanceKey(orgID int64, resourceType, resourceID string) string {
	return fmt.Sprintf("%d/%s/%s", orgID, resourceType, resourceID)
}

func (s *InMemProvisioningStore) GetProvenance(_ context.Context, o models.Provisionable, orgID int64) (models.Provenance, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if p, ok := s.records[provenanceKey(orgID, o.ResourceType(), o.ResourceID())]; ok {
		return p, nil
	}
	return models.ProvenanceNone, nil
}

func (s *InMemProvisioningStore) GetProvenances(_ context.Context, orgID int64, resourceType string) (map[string]models.Provenance, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	prefix := fmt.Sprintf("%d/%s/", orgID, resourceType)
	out := map[string]models.Provenance{}
	for key, p := range s.records {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out[key[len(prefix):]] = p
		}
	}
	return out, nil
}

func (s *InMemProvisioningStore) SetProvenance(_ context.Context, o models.Provisionable, orgID int64, p models.Provenance) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.records[provenanceKey(orgID, o.ResourceType(), o.ResourceID())] = p
	return nil
}

func (s *InMemProvisioningStore) DeleteProvenance(_ context.Context, o models.Provisionable, orgID int64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.records, provenanceKey(orgID, o.ResourceType(), o.ResourceID()))
	return nil
}
