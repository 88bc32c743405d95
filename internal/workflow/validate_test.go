package workflow

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

func linearWorkflow() *domain.AutomationWorkflow {
	campaignID := uuid.New()
	return &domain.AutomationWorkflow{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Name:           "welcome series",
		Trigger:        domain.Trigger{Kind: domain.TriggerEvent, EventName: "user.signup"},
		Steps: []domain.Step{
			{ID: "send-welcome", Kind: domain.StepSendMessage, Position: 0, Next: []string{"wait-1d"},
				Config: domain.StepConfig{Channel: domain.CampaignEmail, CampaignID: &campaignID}},
			{ID: "wait-1d", Kind: domain.StepWait, Position: 1, Next: []string{"check-opened"},
				Config: domain.StepConfig{DelayValue: 1, DelayUnit: "days"}},
			{ID: "check-opened", Kind: domain.StepCondition, Position: 2, Next: []string{"done", "send-reminder"},
				Config: domain.StepConfig{Guards: []domain.Guard{{Field: "opened_welcome", Op: "eq", Value: "true"}}}},
			{ID: "send-reminder", Kind: domain.StepSendMessage, Position: 3, Next: nil,
				Config: domain.StepConfig{Channel: domain.CampaignEmail, Subject: "Reminder", Content: "<p>Hi</p>"}},
			{ID: "done", Kind: domain.StepAction, Position: 4, Next: nil,
				Config: domain.StepConfig{ActionName: "add_tag", ActionParams: map[string]string{"tag": "engaged"}}},
		},
	}
}

func TestValidate_WellFormedGraph(t *testing.T) {
	if err := Validate(linearWorkflow()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RejectsCycle(t *testing.T) {
	w := linearWorkflow()
	// send-reminder loops back into the wait
	w.Steps[3].Next = []string{"wait-1d"}

	err := Validate(w)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error should name the cycle, got: %v", err)
	}
}

func TestValidate_RejectsUnknownReference(t *testing.T) {
	w := linearWorkflow()
	w.Steps[0].Next = []string{"no-such-step"}

	err := Validate(w)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "unknown step") {
		t.Errorf("error should name the dangling edge, got: %v", err)
	}
}

func TestValidate_RejectsUnreachableStep(t *testing.T) {
	w := linearWorkflow()
	// Two steps referencing each other form an island: neither is an
	// entry, and neither is reachable from the real one.
	w.Steps = append(w.Steps,
		domain.Step{ID: "island-1", Kind: domain.StepWait, Position: 8, Next: []string{"island-2"},
			Config: domain.StepConfig{DelayValue: 1, DelayUnit: "hours"}},
		domain.Step{ID: "island-2", Kind: domain.StepWait, Position: 9, Next: []string{"island-1"},
			Config: domain.StepConfig{DelayValue: 1, DelayUnit: "hours"}},
	)

	err := Validate(w)
	if err == nil {
		t.Fatal("expected validation error for disconnected steps")
	}
	if !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("error should name the unreachable steps, got: %v", err)
	}
}

func TestValidate_ConditionNeedsDefaultBranch(t *testing.T) {
	w := linearWorkflow()
	// Two guards for two branches leaves no unguarded default
	w.Steps[2].Config.Guards = append(w.Steps[2].Config.Guards,
		domain.Guard{Field: "plan", Op: "eq", Value: "pro"})

	err := Validate(w)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "default") {
		t.Errorf("error should mention the default branch, got: %v", err)
	}
}

func TestValidate_RejectsUnknownGuardOp(t *testing.T) {
	w := linearWorkflow()
	w.Steps[2].Config.Guards[0].Op = "matches"

	if err := Validate(w); err == nil {
		t.Fatal("expected validation error for unknown guard op")
	}
}

func TestValidate_EmptyWorkflow(t *testing.T) {
	w := &domain.AutomationWorkflow{ID: uuid.New(), OrganizationID: uuid.New()}
	if err := Validate(w); err == nil {
		t.Fatal("expected validation error for empty workflow")
	}
}
