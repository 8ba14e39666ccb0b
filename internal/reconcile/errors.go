package reconcile

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrSyncInProgress indicates another sync pass holds the run guard.
	ErrSyncInProgress = errors.New("reconcile: sync already in progress")
	// ErrNoConflict indicates conflict resolution was requested for a contact
	// that is not flagged. The caller's assumption was wrong and must not be
	// silently accepted.
	ErrNoConflict = errors.New("reconcile: contact has no conflict to resolve")
	// ErrEntryNotFound indicates the requested directory identifier matched
	// no entry.
	ErrEntryNotFound = errors.New("reconcile: directory entry not found")
	// ErrUnknownStrategy indicates an unrecognized resolution strategy.
	ErrUnknownStrategy = errors.New("reconcile: unknown resolution strategy")
	// ErrIdentifierRequired indicates the chosen strategy needs the competing
	// directory identifier.
	ErrIdentifierRequired = errors.New("reconcile: directory identifier required for this strategy")
)

// UIDConflictError reports that a single import collides with an existing
// manually created record holding the same uid. The caller decides whether to
// surface it, merge, or retry with force.
type UIDConflictError struct {
	UID        string
	ExistingID int64
}

func (e *UIDConflictError) Error() string {
	return fmt.Sprintf("reconcile: uid %q conflicts with existing contact %d", e.UID, e.ExistingID)
}

const (
	opSync    = "reconcile.sync"
	opImport  = "reconcile.import"
	opResolve = "reconcile.resolve"
)

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("reconcile service error", attrs...)
}
