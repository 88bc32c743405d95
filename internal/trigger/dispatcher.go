// Package trigger starts workflow instances. Three sources feed it:
// business events from the API surface, cron schedules evaluated by the
// poller, and segment-entry notifications smoothed through a debouncer.
// All three converge on the same enrollment path, which dedupes against an
// already-running instance of the workflow for the contact.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
)

// WorkflowFinder locates active workflows by trigger.
type WorkflowFinder interface {
	ListActiveByEvent(ctx context.Context, eventName string) ([]domain.AutomationWorkflow, error)
	ListActiveScheduled(ctx context.Context) ([]domain.AutomationWorkflow, error)
	ListActiveBySegment(ctx context.Context, segmentID uuid.UUID) ([]domain.AutomationWorkflow, error)
}

// InstanceRepo is the enrollment persistence surface.
type InstanceRepo interface {
	Create(ctx context.Context, inst *domain.WorkflowInstance) error
	FindRunning(ctx context.Context, workflowID, contactID uuid.UUID) (*domain.WorkflowInstance, error)
}

// ContactSource resolves contacts for enrollment.
type ContactSource interface {
	GetAny(ctx context.Context, id uuid.UUID) (*domain.Contact, error)
	ListBySegment(ctx context.Context, segmentID uuid.UUID) ([]domain.Contact, error)
}

// BusinessEvent is an application event that can start workflows:
// user.signup, order.completed, cart.abandoned.
type BusinessEvent struct {
	Name           string         `json:"name"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	ContactID      uuid.UUID      `json:"contact_id"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Dispatcher fans business events out to matching workflows.
type Dispatcher struct {
	workflows WorkflowFinder
	instances InstanceRepo
	contacts  ContactSource
}

// NewDispatcher creates the event dispatcher.
func NewDispatcher(workflows WorkflowFinder, instances InstanceRepo, contacts ContactSource) *Dispatcher {
	return &Dispatcher{workflows: workflows, instances: instances, contacts: contacts}
}

// HandleEvent enrolls the event's contact into every active workflow
// listening for the event name within the same tenant. A failure on one
// workflow does not stop enrollment into the others.
func (d *Dispatcher) HandleEvent(ctx context.Context, evt BusinessEvent) error {
	if evt.Name == "" {
		return errors.New("event has no name")
	}

	workflows, err := d.workflows.ListActiveByEvent(ctx, evt.Name)
	if err != nil {
		return fmt.Errorf("find workflows for event %q: %w", evt.Name, err)
	}

	var firstErr error
	for i := range workflows {
		wf := &workflows[i]
		if wf.OrganizationID != evt.OrganizationID {
			// Same event name registered by another tenant
			continue
		}
		if err := d.Enroll(ctx, wf, evt.ContactID, evt.Attributes); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Enroll creates a new instance of the workflow for the contact, unless
// the contact already has one running or waiting.
func (d *Dispatcher) Enroll(ctx context.Context, wf *domain.AutomationWorkflow, contactID uuid.UUID, extra map[string]any) error {
	existing, err := d.instances.FindRunning(ctx, wf.ID, contactID)
	if err != nil && !errors.Is(err, postgres.ErrNotFound) {
		return fmt.Errorf("check existing instance: %w", err)
	}
	if existing != nil {
		logger.Debug("contact already enrolled",
			"workflow_id", wf.ID.String(),
			"contact_id", contactID.String())
		return nil
	}

	contact, err := d.contacts.GetAny(ctx, contactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if contact.OrganizationID != wf.OrganizationID {
		return fmt.Errorf("contact %s does not belong to workflow tenant", contactID)
	}

	vars := contact.Variables()
	for k, v := range extra {
		vars[k] = v
	}

	inst := &domain.WorkflowInstance{
		OrganizationID: wf.OrganizationID,
		WorkflowID:     wf.ID,
		ContactID:      contactID,
		CurrentStepID:  domain.StartCursor,
		Status:         domain.InstanceRunning,
		Variables:      vars,
	}
	if err := d.instances.Create(ctx, inst); err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	logger.Info("contact enrolled",
		"workflow_id", wf.ID.String(),
		"instance_id", inst.ID.String(),
		"contact_id", contactID.String())
	return nil
}
