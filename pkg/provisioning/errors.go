package provisioning

import "github.com/pkg/errors"

var (
	// ErrNoAlertmanagerConfiguration is returned when an org has no
	// configuration to operate on.
	ErrNoAlertmanagerConfiguration = errors.New("no alertmanager configuration present in this organization")

	// ErrRouteNotFound is returned when a named routing tree does not exist.
	ErrRouteNotFound = errors.New("route not found")

	// ErrRouteExists is returned when creating a routing tree whose name is
	// already taken.
	ErrRouteExists = errors.New("route already exists")

	// ErrVersionConflict is returned when a caller-supplied concurrency
	// token does not match the stored one. The wrapped message names both
	// versions.
	ErrVersionConflict = errors.New("version conflict")

	// ErrRouteInvalidFormat is returned when a submitted routing subtree
	// fails validation. Nothing is persisted.
	ErrRouteInvalidFormat = errors.New("invalid format of routing tree")

	// ErrProvenanceChangeNotAllowed is returned when a mutation would step
	// on a resource owned by a stricter provisioning source.
	ErrProvenanceChangeNotAllowed = errors.New("provenance change not allowed")
)
