package alertmanager

import (
	"context"
	"sort"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/cortexproject/amconfig/pkg/configstore"
	"github.com/cortexproject/amconfig/pkg/definitions"
	"github.com/cortexproject/amconfig/pkg/permissions"
)

// permissionDiff is the plan for bringing receiver permissions in line with
// a new configuration. It is computed before any permission is touched so a
// failure mid-apply is attributable to a specific resource.
type permissionDiff struct {
	toDelete []string
	toAdd    []string
}

func (d permissionDiff) empty() bool {
	return len(d.toDelete) == 0 && len(d.toAdd) == 0
}

// planPermissionDiff compares the receiver names of the previous and new
// configurations and maps the difference to resource UIDs. A receiver rename
// shows up as one delete and one add.
func planPermissionDiff(previous configstore.LatestLookup, newNames map[string]struct{}) (permissionDiff, error) {
	previousNames := map[string]struct{}{}
	if previous.Found() {
		var err error
		previousNames, err = definitions.ExtractReceiverNames(previous.Config.AlertmanagerConfiguration)
		if err != nil {
			return permissionDiff{}, errors.Wrap(err, "failed to extract receiver names from previous configuration")
		}
	}

	var diff permissionDiff
	for name := range previousNames {
		if _, ok := newNames[name]; !ok {
			diff.toDelete = append(diff.toDelete, permissions.NameToUID(name))
		}
	}
	for name := range newNames {
		if _, ok := previousNames[name]; !ok {
			diff.toAdd = append(diff.toAdd, permissions.NameToUID(name))
		}
	}
	sort.Strings(diff.toDelete)
	sort.Strings(diff.toAdd)
	return diff, nil
}

// applyPermissionDiff executes the plan. Deletions run first so that a
// rename never leaves a window with both UIDs carrying permissions.
func (moa *MultiOrgAlertmanager) applyPermissionDiff(ctx context.Context, orgID int64, diff permissionDiff) error {
	for _, uid := range diff.toDelete {
		if err := moa.receiverResourcePermissions.DeleteResourcePermissions(ctx, orgID, uid); err != nil {
			return errors.Wrapf(err, "failed to delete permissions for resource %s", uid)
		}
	}
	for _, uid := range diff.toAdd {
		moa.receiverResourcePermissions.SetDefaultPermissions(ctx, orgID, nil, uid)
	}
	return nil
}

// reconcileReceiverPermissions runs after the configuration commit. The
// config change is already durable at this point, so a reconciliation
// failure is reported but never propagated to the caller.
func (moa *MultiOrgAlertmanager) reconcileReceiverPermissions(ctx context.Context, orgID int64, previous configstore.LatestLookup, newNames map[string]struct{}) {
	diff, err := planPermissionDiff(previous, newNames)
	if err != nil {
		moa.reportReconcileFailure(orgID, err)
		return
	}
	if diff.empty() {
		return
	}
	if err := moa.applyPermissionDiff(ctx, orgID, diff); err != nil {
		moa.reportReconcileFailure(orgID, err)
		return
	}
	level.Debug(moa.logger).Log("msg", "reconciled receiver permissions", "org", orgID, "deleted", len(diff.toDelete), "added", len(diff.toAdd))
}

func (moa *MultiOrgAlertmanager) reportReconcileFailure(orgID int64, err error) {
	moa.metrics.reconcileFailuresTotal.Inc()
	level.Error(moa.logger).Log("msg", "failed to reconcile receiver permissions, configuration change is unaffected", "org", orgID, "err", err)
}
