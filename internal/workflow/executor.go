// Package workflow contains the automation engine: save-time graph
// validation, the step handlers, the instance executor, and the worker
// pool that drives it. An instance is advanced by exactly one worker at a
// time under a lease; every state change is persisted before the cursor
// moves, so a crashed worker's instance resumes on any other worker without
// repeating side effects.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// Step result actions.
const (
	ActionContinue = "continue"
	ActionWait     = "wait"
	ActionComplete = "complete"
)

// StepResult is what a handler reports back to the executor.
type StepResult struct {
	// Action is one of ActionContinue, ActionWait, ActionComplete.
	Action string
	// NextStepID overrides the step's default edge; condition handlers use
	// it to select a branch. Empty means follow Next[0].
	NextStepID string
	// ResumeAt is when a waiting instance becomes eligible again.
	ResumeAt time.Time
}

// StepHandler executes one kind of step. Handlers own their side effects
// and their retry budgets; an error from a handler means the instance's
// state could not be advanced and the step will be attempted again on a
// later claim.
type StepHandler interface {
	Execute(ctx context.Context, inst *domain.WorkflowInstance, step *domain.Step) (StepResult, error)
}

// WorkflowSource loads workflow definitions for the executor.
type WorkflowSource interface {
	GetAny(ctx context.Context, id uuid.UUID) (*domain.AutomationWorkflow, error)
}

// InstanceRepo is the instance persistence surface the executor needs.
type InstanceRepo interface {
	Update(ctx context.Context, inst *domain.WorkflowInstance) error
	Refresh(ctx context.Context, id uuid.UUID) (domain.InstanceStatus, error)
}

// LeaseFactory builds the per-instance execution lease.
type LeaseFactory func(instanceID uuid.UUID) distlock.Lease

// maxStepsPerAdvance bounds one advance pass. A validated DAG cannot loop,
// but a bound keeps a pathological graph from pinning a worker.
const maxStepsPerAdvance = 1000

// Executor advances one instance at a time through its workflow.
type Executor struct {
	workflows WorkflowSource
	instances InstanceRepo
	leases    LeaseFactory
	handlers  map[domain.StepKind]StepHandler

	nowFn func() time.Time
}

// NewExecutor wires an executor with its step handlers.
func NewExecutor(workflows WorkflowSource, instances InstanceRepo, leases LeaseFactory, handlers map[domain.StepKind]StepHandler) *Executor {
	return &Executor{
		workflows: workflows,
		instances: instances,
		leases:    leases,
		handlers:  handlers,
		nowFn:     time.Now,
	}
}

// Advance acquires the instance's lease and executes steps until the
// instance waits, completes, or errors. Lease contention is not an error:
// another worker owns the instance and this one moves on.
func (e *Executor) Advance(ctx context.Context, inst *domain.WorkflowInstance) error {
	lease := e.leases(inst.ID)
	acquired, err := lease.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		return nil
	}
	defer lease.Release(ctx)

	// A cancellation may have raced the eligibility claim
	status, err := e.instances.Refresh(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("refresh instance: %w", err)
	}
	if status.IsTerminal() {
		return nil
	}
	inst.Status = status

	wf, err := e.workflows.GetAny(ctx, inst.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", inst.WorkflowID, err)
	}
	if err := tenant.NewScope(inst.OrganizationID).Check(wf.OrganizationID); err != nil {
		return fmt.Errorf("instance %s: %w", inst.ID, err)
	}

	return e.run(ctx, wf, inst, lease)
}

func (e *Executor) run(ctx context.Context, wf *domain.AutomationWorkflow, inst *domain.WorkflowInstance, lease distlock.Lease) error {
	for i := 0; i < maxStepsPerAdvance; i++ {
		// The lease TTL is sized for one step, not the whole chain; renew
		// it before every further step and stop if the renewal fails,
		// because a lapsed lease means another worker may own the instance.
		if i > 0 {
			if err := lease.Extend(ctx); err != nil {
				return fmt.Errorf("extend lease for instance %s: %w", inst.ID, err)
			}
		}

		step := e.currentStep(wf, inst)
		if step == nil {
			return e.complete(ctx, inst)
		}

		result, err := e.executeStep(ctx, inst, step)
		if err != nil {
			return fmt.Errorf("execute step %s: %w", step.ID, err)
		}

		switch result.Action {
		case ActionWait:
			inst.MarkExecuted(step.ID)
			inst.Status = domain.InstanceWaiting
			resumeAt := result.ResumeAt
			inst.ResumeAt = &resumeAt
			// Cursor moves past the wait so resumption continues downstream
			inst.CurrentStepID = e.nextAfter(step, result)
			if err := e.instances.Update(ctx, inst); err != nil {
				return fmt.Errorf("persist waiting instance: %w", err)
			}
			return nil

		case ActionComplete:
			inst.MarkExecuted(step.ID)
			return e.complete(ctx, inst)

		default: // continue
			inst.MarkExecuted(step.ID)
			next := e.nextAfter(step, result)
			if next == "" {
				return e.complete(ctx, inst)
			}
			inst.CurrentStepID = next
			inst.Status = domain.InstanceRunning
			inst.ResumeAt = nil
			if err := e.instances.Update(ctx, inst); err != nil {
				return fmt.Errorf("persist instance cursor: %w", err)
			}
		}
	}
	return fmt.Errorf("instance %s exceeded %d steps in one advance", inst.ID, maxStepsPerAdvance)
}

// executeStep dispatches to the kind's handler, skipping re-execution of
// side-effecting steps the instance has already run. The skip replays the
// step's default edge so resumption lands where the first execution did.
func (e *Executor) executeStep(ctx context.Context, inst *domain.WorkflowInstance, step *domain.Step) (StepResult, error) {
	if step.Kind.HasSideEffects() && inst.HasExecuted(step.ID) {
		logger.Debug("skipping already-executed step",
			"instance_id", inst.ID.String(),
			"step_id", step.ID)
		return StepResult{Action: ActionContinue}, nil
	}

	h, ok := e.handlers[step.Kind]
	if !ok {
		return StepResult{}, fmt.Errorf("no handler for step kind %q", step.Kind)
	}
	return h.Execute(ctx, inst, step)
}

func (e *Executor) currentStep(wf *domain.AutomationWorkflow, inst *domain.WorkflowInstance) *domain.Step {
	if inst.CurrentStepID == domain.StartCursor {
		entries := wf.EntrySteps()
		if len(entries) == 0 {
			return nil
		}
		return wf.StepByID(entries[0].ID)
	}
	return wf.StepByID(inst.CurrentStepID)
}

func (e *Executor) nextAfter(step *domain.Step, result StepResult) string {
	if result.NextStepID != "" {
		return result.NextStepID
	}
	if len(step.Next) > 0 {
		return step.Next[0]
	}
	return ""
}

func (e *Executor) complete(ctx context.Context, inst *domain.WorkflowInstance) error {
	now := e.nowFn()
	inst.Status = domain.InstanceCompleted
	inst.CompletedAt = &now
	inst.ResumeAt = nil
	if err := e.instances.Update(ctx, inst); err != nil {
		return fmt.Errorf("persist completed instance: %w", err)
	}
	logger.Info("workflow instance completed",
		"instance_id", inst.ID.String(),
		"workflow_id", inst.WorkflowID.String())
	return nil
}
