package alertmanager

import (
	"sync"
)

// orgRegistry owns the set of live per-org Alertmanager instances. Lookups
// take the read lock; instance creation and teardown require exclusion.
type orgRegistry struct {
	mtx       sync.RWMutex
	instances map[int64]Alertmanager
}

func newOrgRegistry() *orgRegistry {
	return &orgRegistry{instances: map[int64]Alertmanager{}}
}

func (r *orgRegistry) get(orgID int64) (Alertmanager, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	am, ok := r.instances[orgID]
	if !ok {
		return nil, ErrNoAlertmanagerForOrg
	}
	return am, nil
}

// getOrCreate returns the org's instance, calling factory under the write
// lock when none exists yet.
func (r *orgRegistry) getOrCreate(orgID int64, factory func(orgID int64) (Alertmanager, error)) (Alertmanager, error) {
	r.mtx.RLock()
	am, ok := r.instances[orgID]
	r.mtx.RUnlock()
	if ok {
		return am, nil
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if am, ok := r.instances[orgID]; ok {
		return am, nil
	}
	am, err := factory(orgID)
	if err != nil {
		return nil, err
	}
	r.instances[orgID] = am
	return am, nil
}

func (r *orgRegistry) delete(orgID int64) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	delete(r.instances, orgID)
}

func (r *orgRegistry) count() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.instances)
}

func (r *orgRegistry) orgs() []int64 {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	out := make([]int64, 0, len(r.instances))
	for orgID := range r.instances {
		out = append(out, orgID)
	}
	return out
}
