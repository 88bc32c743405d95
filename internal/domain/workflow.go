package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerKind enumerates how a workflow can be started.
type TriggerKind string

const (
	TriggerEvent        TriggerKind = "event"
	TriggerSchedule     TriggerKind = "schedule"
	TriggerSegmentEntry TriggerKind = "segment_entry"
)

// Trigger is the tagged variant describing what starts a workflow. Only
// the fields for the trigger's kind are meaningful: event uses EventName,
// segment_entry uses SegmentID, and schedule uses Cron plus SegmentID as
// the audience each occurrence fans out to.
type Trigger struct {
	Kind      TriggerKind `json:"kind"`
	EventName string      `json:"event_name,omitempty"`
	Cron      string      `json:"cron,omitempty"`
	SegmentID *uuid.UUID  `json:"segment_id,omitempty"`
}

// StepKind enumerates the closed set of step behaviors.
type StepKind string

const (
	StepSendMessage StepKind = "send_message"
	StepWait        StepKind = "wait"
	StepCondition   StepKind = "condition"
	StepAction      StepKind = "action"
)

// HasSideEffects reports whether re-executing a step of this kind would
// duplicate an externally visible effect. The executor consults this when
// resuming a crashed instance.
func (k StepKind) HasSideEffects() bool {
	return k == StepSendMessage || k == StepAction
}

// Guard is a single boolean test over instance variables:
// variables[Field] <Op> Value. Supported ops: eq, neq, gt, gte, lt, lte, exists.
type Guard struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value,omitempty"`
}

// StepConfig carries the kind-specific configuration for a step.
// Only the fields matching the step's kind are used.
type StepConfig struct {
	// send_message
	Channel    CampaignType `json:"channel,omitempty"`
	CampaignID *uuid.UUID   `json:"campaign_id,omitempty"`
	ABTestID   *uuid.UUID   `json:"ab_test_id,omitempty"`
	Subject    string       `json:"subject,omitempty"`
	Content    string       `json:"content,omitempty"`

	// wait: value+unit pairs (minutes, hours, days, weeks)
	DelayValue int    `json:"delay_value,omitempty"`
	DelayUnit  string `json:"delay_unit,omitempty"`

	// condition: Guards[i] guards Next[i]; the final Next entry is the
	// mandatory default branch and has no guard.
	Guards []Guard `json:"guards,omitempty"`

	// action
	ActionName   string            `json:"action_name,omitempty"`
	ActionParams map[string]string `json:"action_params,omitempty"`
}

// WaitDuration converts the wait config into a duration. Defaults to one
// hour when the config is missing or invalid, matching the scheduler's
// forgiving handling of operator input.
func (c StepConfig) WaitDuration() time.Duration {
	v := c.DelayValue
	if v <= 0 {
		v = 1
	}
	switch c.DelayUnit {
	case "minutes":
		return time.Duration(v) * time.Minute
	case "days":
		return time.Duration(v) * 24 * time.Hour
	case "weeks":
		return time.Duration(v) * 7 * 24 * time.Hour
	default:
		return time.Duration(v) * time.Hour
	}
}

// Step is one node in a workflow's step graph. Next holds the ids of the
// steps reachable from this one; for condition steps the list is ordered
// and the last entry is the default branch.
type Step struct {
	ID       string     `json:"id"`
	Kind     StepKind   `json:"kind"`
	Position int        `json:"position"`
	Next     []string   `json:"next"`
	Config   StepConfig `json:"config"`
}

// AutomationWorkflow is a trigger plus a step graph, owned by one tenant.
// The steps must form a DAG reachable from the implicit start node; this is
// validated at save time, never at run time.
type AutomationWorkflow struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Trigger        Trigger   `json:"trigger" db:"trigger"`
	Steps          []Step    `json:"steps" db:"steps"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// StepByID returns the step with the given id, or nil.
func (w *AutomationWorkflow) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// EntrySteps returns the steps at the implicit start node: the lowest
// Position value among all steps not referenced by any other step's Next.
// For a well-formed workflow this is the single entry step.
func (w *AutomationWorkflow) EntrySteps() []Step {
	referenced := make(map[string]bool)
	for _, s := range w.Steps {
		for _, n := range s.Next {
			referenced[n] = true
		}
	}
	var roots []Step
	for _, s := range w.Steps {
		if !referenced[s.ID] {
			roots = append(roots, s)
		}
	}
	return roots
}

// StartCursor is the cursor value of a freshly created instance that has not
// executed any step yet.
const StartCursor = "start"

// InstanceStatus enumerates the workflow instance state machine.
type InstanceStatus string

const (
	InstanceRunning   InstanceStatus = "running"
	InstanceWaiting   InstanceStatus = "waiting"
	InstanceCompleted InstanceStatus = "completed"
	InstanceCancelled InstanceStatus = "cancelled"
)

// IsTerminal returns true for completed and cancelled instances.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceCompleted || s == InstanceCancelled
}

// WorkflowInstance is one execution of a workflow for one contact. It is
// owned exclusively by the workflow executor; durable fields (cursor,
// resume_at, executed set) make suspension crash-resumable by any worker.
type WorkflowInstance struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	OrganizationID uuid.UUID      `json:"organization_id" db:"organization_id"`
	WorkflowID     uuid.UUID      `json:"workflow_id" db:"workflow_id"`
	ContactID      uuid.UUID      `json:"contact_id" db:"contact_id"`
	CurrentStepID  string         `json:"current_step_id" db:"current_step_id"`
	Status         InstanceStatus `json:"status" db:"status"`
	ResumeAt       *time.Time     `json:"resume_at" db:"resume_at"`
	Variables      map[string]any `json:"variables" db:"variables"`
	ExecutedSteps  []string       `json:"executed_steps" db:"executed_steps"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at" db:"completed_at"`
}

// HasExecuted reports whether the step id is in the executed set.
func (i *WorkflowInstance) HasExecuted(stepID string) bool {
	for _, s := range i.ExecutedSteps {
		if s == stepID {
			return true
		}
	}
	return false
}

// MarkExecuted appends the step id to the executed set. The set only grows.
func (i *WorkflowInstance) MarkExecuted(stepID string) {
	if !i.HasExecuted(stepID) {
		i.ExecutedSteps = append(i.ExecutedSteps, stepID)
	}
}
