// Package tenant implements the tenant context guard. Every data-access
// call in the engine carries an explicit organization id; this package
// provides the scope type and the single check that fails closed when a
// record's tenant does not match the caller's.
package tenant

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// ErrIsolationViolation is returned when an operation touches a record
// belonging to a different tenant. It is fatal: never retried, surfaced to
// the caller as an authorization failure.
var ErrIsolationViolation = errors.New("tenant isolation violation")

// Scope identifies the tenant on whose behalf a call chain is executing.
// It is passed explicitly on every repository and handler call, never read
// from ambient state.
type Scope struct {
	OrganizationID uuid.UUID
}

// NewScope builds a scope for the given organization.
func NewScope(orgID uuid.UUID) Scope {
	return Scope{OrganizationID: orgID}
}

// Valid reports whether the scope carries a usable organization id.
func (s Scope) Valid() bool {
	return s.OrganizationID != uuid.Nil
}

// Check verifies that a record's organization id matches the caller's
// scope. A mismatch is logged as a security event and returned as
// ErrIsolationViolation.
func (s Scope) Check(recordOrg uuid.UUID) error {
	if !s.Valid() {
		return fmt.Errorf("%w: empty tenant scope", ErrIsolationViolation)
	}
	if recordOrg != s.OrganizationID {
		logger.Error("tenant isolation violation",
			"security_event", "true",
			"caller_org", s.OrganizationID.String(),
			"record_org", recordOrg.String())
		return ErrIsolationViolation
	}
	return nil
}
