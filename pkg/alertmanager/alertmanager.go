package alertmanager

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/cortexproject/amconfig/pkg/definitions"
	"github.com/cortexproject/amconfig/pkg/models"
)

var (
	// ErrAlertmanagerNotReady is returned while an org's instance exists but
	// has not finished starting. Configuration writes tolerate it: the
	// config change is what matters and the instance picks it up once ready.
	ErrAlertmanagerNotReady = errors.New("alertmanager is not ready yet")

	// ErrNoAlertmanagerForOrg is returned when no instance exists for the
	// org.
	ErrNoAlertmanagerForOrg = errors.New("no alertmanager found for this organization")

	// ErrInhibitionRulesNotSupported rejects configurations carrying
	// inhibition rules, which the managed Alertmanager does not support.
	ErrInhibitionRulesNotSupported = errors.New("inhibition rules are not supported")
)

// Alertmanager is one org's live Alertmanager instance. The orchestrator
// drives it; the alerting engine behind it is out of scope here.
type Alertmanager interface {
	// Ready reports whether the instance finished starting.
	Ready() bool

	// SaveAndApplyConfig persists the configuration and makes it take
	// effect.
	SaveAndApplyConfig(ctx context.Context, cfg *definitions.PostableUserConfig) error

	// SaveAndApplyDefaultConfig resets the org to the built-in default
	// configuration.
	SaveAndApplyDefaultConfig(ctx context.Context) error

	// ApplyConfig makes an already-persisted configuration take effect
	// without altering storage.
	ApplyConfig(ctx context.Context, dbConfig *models.AlertConfiguration) error
}

// ConfigRejectedError wraps an error from the instance rejecting a
// configuration, distinguishing it from transport and parse failures.
type ConfigRejectedError struct {
	Inner error
}

func (e ConfigRejectedError) Error() string {
	return fmt.Sprintf("failed to save and apply Alertmanager configuration: %s", e.Inner.Error())
}

func (e ConfigRejectedError) Unwrap() error { return e.Inner }

// ReceiverDoesNotExistError is reported by an instance when removing a
// receiver that an alert rule still references.
type ReceiverDoesNotExistError struct {
	Reference string
}

func (e ReceiverDoesNotExistError) Error() string {
	return fmt.Sprintf("receiver %q does not exist", e.Reference)
}

// TimeIntervalDoesNotExistError is reported by an instance when removing a
// time interval that an alert rule still references.
type TimeIntervalDoesNotExistError struct {
	Reference string
}

func (e TimeIntervalDoesNotExistError) Error() string {
	return fmt.Sprintf("time interval %q does not exist", e.Reference)
}

// ReceiverInUseError is the user-facing conflict produced when a save fails
// because a rule still references the receiver.
type ReceiverInUseError struct {
	Receiver string
	Err      error
}

func (e ReceiverInUseError) Error() string {
	return fmt.Sprintf("receiver [Name: %s] is used by rule: %s", e.Receiver, e.Err)
}

func (e ReceiverInUseError) Unwrap() error { return e.Err }

// TimeIntervalInUseError is the user-facing conflict produced when a save
// fails because a rule still references the time interval.
type TimeIntervalInUseError struct {
	Interval string
	Err      error
}

func (e TimeIntervalInUseError) Error() string {
	return fmt.Sprintf("time interval [Name: %s] is used by rule: %s", e.Interval, e.Err)
}

func (e TimeIntervalInUseError) Unwrap() error { return e.Err }

// MultipleExtraConfigsError is the conflict produced when a second distinct
// extra configuration identifier is submitted while one already exists.
type MultipleExtraConfigsError struct {
	Identifier string
}

func (e MultipleExtraConfigsError) Error() string {
	return fmt.Sprintf("multiple extra configurations are not supported, found another configuration with identifier: %s", e.Identifier)
}
