package permissions

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
)

// uidMaxLength is the longest resource UID we derive directly from a name.
// Longer names fall back to a digest so the UID stays bounded.
const uidMaxLength = 40

// ReceiverAccessControl manages fine-grained resource permissions for
// receivers. Permissions are keyed by org and a resource UID derived from the
// receiver name.
type ReceiverAccessControl interface {
	// SetDefaultPermissions installs the default permission set for a newly
	// observed receiver. Failures are handled internally; reconciliation
	// treats this call as fire-and-forget.
	SetDefaultPermissions(ctx context.Context, orgID int64, user *SignedInUser, resourceUID string)

	// DeleteResourcePermissions removes every permission bound to the
	// resource.
	DeleteResourcePermissions(ctx context.Context, orgID int64, resourceUID string) error
}

// SignedInUser identifies the actor a default permission set is granted for.
// A nil user grants the built-in defaults only.
type SignedInUser struct {
	ID    int64
	OrgID int64
	Login string
}

// NameToUID derives a stable resource UID from a receiver name. Short names
// encode reversibly; longer ones use a digest. The same name always maps to
// the same UID, which is what lets permission diffing work across renames.
func NameToUID(name string) string {
	uid := base64.RawURLEncoding.EncodeToString([]byte(name))
	if len(uid) <= uidMaxLength {
		return uid
	}
	digest := sha256.Sum256([]byte(name))
	return base64.RawURLEncoding.EncodeToString(digest[:])[:uidMaxLength]
}

// InMemoryService is a ReceiverAccessControl for single-binary deployments
// and tests. It records which resources currently hold default permissions.
type InMemoryService struct {
	mtx   sync.Mutex
	perms map[int64]map[string]struct{}
}

func NewInMemoryService() *InMemoryService {
	return &InMemoryService{perms: map[int64]map[string]struct{}{}}
}

func (s *InMemoryService) SetDefaultPermissions(_ context.Context, orgID int64, _ *SignedInUser, resourceUID string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.perms[orgID]; !ok {
		s.perms[orgID] = map[string]struct{}{}
	}
	s.perms[orgID][resourceUID] = struct{}{}
}

func (s *InMemoryService) DeleteResourcePermissions(_ context.Context, orgID int64, resourceUID string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.perms[orgID], resourceUID)
	return nil
}

// HasPermissions reports whether default permissions exist for the resource.
func (s *InMemoryService) HasPermissions(orgID int64, resourceUID string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, ok := s.perms[orgID][resourceUID]
	return ok
}
