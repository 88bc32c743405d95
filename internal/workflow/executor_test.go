package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/gateway"
	"github.com/ignite/campaign-engine/internal/pkg/backoff"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// ---- fakes ----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memWorkflows map[uuid.UUID]*domain.AutomationWorkflow

func (m memWorkflows) GetAny(_ context.Context, id uuid.UUID) (*domain.AutomationWorkflow, error) {
	return m[id], nil
}

type memInstances struct {
	saved map[uuid.UUID]domain.WorkflowInstance
}

func newMemInstances() *memInstances {
	return &memInstances{saved: make(map[uuid.UUID]domain.WorkflowInstance)}
}

func (m *memInstances) Update(_ context.Context, inst *domain.WorkflowInstance) error {
	m.saved[inst.ID] = *inst
	return nil
}

func (m *memInstances) Refresh(_ context.Context, id uuid.UUID) (domain.InstanceStatus, error) {
	if saved, ok := m.saved[id]; ok {
		return saved.Status, nil
	}
	return domain.InstanceRunning, nil
}

type fakeLease struct {
	acquirable bool
	extendErr  error
	acquired   int
	extended   int
	released   int
}

func (l *fakeLease) Acquire(_ context.Context) (bool, error) {
	if !l.acquirable {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLease) Extend(_ context.Context) error {
	if l.extendErr != nil {
		return l.extendErr
	}
	l.extended++
	return nil
}

func (l *fakeLease) Release(_ context.Context) error {
	l.released++
	return nil
}

type memCampaigns map[uuid.UUID]*domain.Campaign

func (m memCampaigns) Get(_ context.Context, scope tenant.Scope, id uuid.UUID) (*domain.Campaign, error) {
	c := m[id]
	if err := scope.Check(c.OrganizationID); err != nil {
		return nil, err
	}
	return c, nil
}

type memMessages struct {
	created []domain.CampaignMessage
	sent    []uuid.UUID
	failed  map[uuid.UUID]string
}

func newMemMessages() *memMessages {
	return &memMessages{failed: make(map[uuid.UUID]string)}
}

func (m *memMessages) Create(_ context.Context, msg *domain.CampaignMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	m.created = append(m.created, *msg)
	return nil
}

func (m *memMessages) MarkSent(_ context.Context, id uuid.UUID, _ string) error {
	m.sent = append(m.sent, id)
	return nil
}

func (m *memMessages) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	m.failed[id] = errMsg
	return nil
}

type fakeGateway struct {
	requests []gateway.SendRequest
	// errs are consumed one per call before requests start succeeding
	errs []error
}

func (g *fakeGateway) Send(_ context.Context, req gateway.SendRequest) (*gateway.SendResult, error) {
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return nil, err
	}
	g.requests = append(g.requests, req)
	return &gateway.SendResult{DeliveryID: "prov-" + req.MessageID.String()[:8]}, nil
}

type memPublisher struct {
	events []events.MessageEvent
}

func (p *memPublisher) Publish(_ context.Context, evt events.MessageEvent) error {
	p.events = append(p.events, evt)
	return nil
}

type noABTests struct{}

func (noABTests) GetAny(_ context.Context, _ uuid.UUID) (*domain.ABTest, []domain.ABTestVariant, error) {
	return nil, nil, nil
}

// ---- scenario fixture ----

type scenario struct {
	clock     *fakeClock
	workflows memWorkflows
	instances *memInstances
	gw        *fakeGateway
	messages  *memMessages
	publisher *memPublisher
	lease     *fakeLease
	executor  *Executor
	workflow  *domain.AutomationWorkflow
	campaign  *domain.Campaign
}

func newScenario(t *testing.T) *scenario {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	orgID := uuid.New()

	campaign := &domain.Campaign{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           "welcome",
		Type:           domain.CampaignEmail,
		Status:         domain.CampaignSending,
		Subject:        "Welcome, {{ first_name }}!",
		Content:        "<p>Hello {{ first_name }}</p>",
		FromName:       "Acme",
		FromAddress:    "hello@acme.example",
	}

	wf := &domain.AutomationWorkflow{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           "signup onboarding",
		Trigger:        domain.Trigger{Kind: domain.TriggerEvent, EventName: "user.signup"},
		IsActive:       true,
		Steps: []domain.Step{
			{ID: "send-welcome", Kind: domain.StepSendMessage, Position: 0, Next: []string{"wait-1d"},
				Config: domain.StepConfig{Channel: domain.CampaignEmail, CampaignID: &campaign.ID}},
			{ID: "wait-1d", Kind: domain.StepWait, Position: 1, Next: []string{"check-opened"},
				Config: domain.StepConfig{DelayValue: 1, DelayUnit: "days"}},
			{ID: "check-opened", Kind: domain.StepCondition, Position: 2, Next: []string{"tag-engaged", "send-reminder"},
				Config: domain.StepConfig{Guards: []domain.Guard{{Field: "opened_welcome", Op: "eq", Value: "true"}}}},
			{ID: "tag-engaged", Kind: domain.StepAction, Position: 3, Next: nil,
				Config: domain.StepConfig{ActionName: "add_tag", ActionParams: map[string]string{"tag": "engaged"}}},
			{ID: "send-reminder", Kind: domain.StepSendMessage, Position: 4, Next: nil,
				Config: domain.StepConfig{Channel: domain.CampaignEmail, Subject: "Still there?", Content: "<p>Reminder</p>"}},
		},
	}
	if err := Validate(wf); err != nil {
		t.Fatalf("fixture workflow invalid: %v", err)
	}

	gw := &fakeGateway{}
	messages := newMemMessages()
	publisher := &memPublisher{}

	sendHandler := NewSendMessageHandler(
		memCampaigns{campaign.ID: campaign},
		messages,
		noABTests{},
		nil,
		gw,
		publisher,
		backoff.Budget{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		time.Second,
	)
	sendHandler.nowFn = clock.Now

	waitHandler := NewWaitHandler()
	waitHandler.nowFn = clock.Now

	instances := newMemInstances()
	lease := &fakeLease{acquirable: true}
	executor := NewExecutor(
		memWorkflows{wf.ID: wf},
		instances,
		func(uuid.UUID) distlock.Lease { return lease },
		map[domain.StepKind]StepHandler{
			domain.StepSendMessage: sendHandler,
			domain.StepWait:        waitHandler,
			domain.StepCondition:   NewConditionHandler(),
			domain.StepAction:      NewActionHandler(),
		},
	)
	executor.nowFn = clock.Now

	return &scenario{
		clock:     clock,
		workflows: memWorkflows{wf.ID: wf},
		instances: instances,
		gw:        gw,
		messages:  messages,
		publisher: publisher,
		lease:     lease,
		executor:  executor,
		workflow:  wf,
		campaign:  campaign,
	}
}

func (s *scenario) newInstance() *domain.WorkflowInstance {
	inst := &domain.WorkflowInstance{
		ID:             uuid.New(),
		OrganizationID: s.workflow.OrganizationID,
		WorkflowID:     s.workflow.ID,
		ContactID:      uuid.New(),
		CurrentStepID:  domain.StartCursor,
		Status:         domain.InstanceRunning,
		Variables: map[string]any{
			"email":      "jordan@example.com",
			"first_name": "Jordan",
		},
	}
	s.instances.saved[inst.ID] = *inst
	return inst
}

// ---- tests ----

func TestAdvance_SignupOnboardingEndToEnd(t *testing.T) {
	s := newScenario(t)
	inst := s.newInstance()

	// First advance: welcome goes out, instance parks on the wait
	if err := s.executor.Advance(context.Background(), inst); err != nil {
		t.Fatalf("first Advance: %v", err)
	}
	if len(s.gw.requests) != 1 {
		t.Fatalf("gateway requests = %d, want 1", len(s.gw.requests))
	}
	if got := s.gw.requests[0].Subject; got != "Welcome, Jordan!" {
		t.Errorf("rendered subject = %q", got)
	}
	if inst.Status != domain.InstanceWaiting {
		t.Fatalf("status = %s, want waiting", inst.Status)
	}
	wantResume := s.clock.Now().Add(24 * time.Hour)
	if inst.ResumeAt == nil || !inst.ResumeAt.Equal(wantResume) {
		t.Errorf("resume_at = %v, want %v", inst.ResumeAt, wantResume)
	}
	if !inst.HasExecuted("send-welcome") {
		t.Error("send-welcome missing from executed set")
	}

	// 24 hours later, the contact never opened: the reminder branch runs
	s.clock.Advance(24 * time.Hour)
	if err := s.executor.Advance(context.Background(), inst); err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if len(s.gw.requests) != 2 {
		t.Fatalf("gateway requests = %d, want 2", len(s.gw.requests))
	}
	if got := s.gw.requests[1].Subject; got != "Still there?" {
		t.Errorf("reminder subject = %q", got)
	}
	if inst.Status != domain.InstanceCompleted {
		t.Errorf("status = %s, want completed", inst.Status)
	}
	if inst.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestAdvance_EngagedContactTakesTagBranch(t *testing.T) {
	s := newScenario(t)
	inst := s.newInstance()

	if err := s.executor.Advance(context.Background(), inst); err != nil {
		t.Fatalf("first Advance: %v", err)
	}

	// The open arrived while the instance waited
	inst.Variables["opened_welcome"] = "true"
	s.clock.Advance(24 * time.Hour)

	if err := s.executor.Advance(context.Background(), inst); err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if len(s.gw.requests) != 1 {
		t.Errorf("reminder sent to an engaged contact")
	}
	tags := toStringSlice(inst.Variables["tags"])
	if len(tags) != 1 || tags[0] != "engaged" {
		t.Errorf("tags = %v, want [engaged]", tags)
	}
	if inst.Status != domain.InstanceCompleted {
		t.Errorf("status = %s, want completed", inst.Status)
	}
}

func TestAdvance_ResumeSkipsExecutedSends(t *testing.T) {
	s := newScenario(t)
	inst := s.newInstance()

	// A previous worker sent the welcome and crashed before moving on:
	// the executed set has the send, the cursor still points at it.
	inst.CurrentStepID = "send-welcome"
	inst.MarkExecuted("send-welcome")
	s.instances.saved[inst.ID] = *inst

	if err := s.executor.Advance(context.Background(), inst); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(s.gw.requests) != 0 {
		t.Errorf("welcome re-sent on resume: %d requests", len(s.gw.requests))
	}
	if inst.Status != domain.InstanceWaiting {
		t.Errorf("status = %s, want waiting past the skipped send", inst.Status)
	}
}

func TestAdvance_CancellationRacesClaim(t *testing.T) {
	s := newScenario(t)
	inst := s.newInstance()

	// Cancelled after the eligibility claim but before the lease
	cancelled := s.instances.saved[inst.ID]
	cancelled.Status = domain.InstanceCancelled
	s.instances.saved[inst.ID] = cancelled

	if err := s.executor.Advance(context.Background(), inst); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(s.gw.requests) != 0 {
		t.Error("cancelled instance executed a step")
	}
}

func TestAdvance_LeaseContentionIsNotAnError(t *testing.T) {
	s := newScenario(t)
	inst := s.newInstance()

	s.executor.leases = func(uuid.UUID) distlock.Lease { return &fakeLease{acquirable: false} }

	if err := s.executor.Advance(context.Background(), inst); err != nil {
		t.Fatalf("Advance under contention: %v", err)
	}
	if len(s.gw.requests) != 0 {
		t.Error("executed without holding the lease")
	}
}

func TestAdvance_CrossTenantWorkflowFailsClosed(t *testing.T) {
	s := newScenario(t)
	inst := s.newInstance()
	inst.OrganizationID = uuid.New() // belongs to someone else
	s.instances.saved[inst.ID] = *inst

	err := s.executor.Advance(context.Background(), inst)
	if err == nil {
		t.Fatal("expected isolation violation")
	}
	if len(s.gw.requests) != 0 {
		t.Error("cross-tenant instance executed a step")
	}
}

func TestAdvance_LeaseRenewedBetweenSteps(t *testing.T) {
	s := newScenario(t)
	inst := s.newInstance()

	// send-welcome then the wait: one renewal separates the two steps
	if err := s.executor.Advance(context.Background(), inst); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if s.lease.extended != 1 {
		t.Errorf("lease extended %d times across a two-step pass, want 1", s.lease.extended)
	}
}

func TestAdvance_LapsedLeaseHaltsTheChain(t *testing.T) {
	s := newScenario(t)
	inst := s.newInstance()

	// The lease lapsed after the first step; another worker may already
	// own the instance, so this one must stop instead of running the wait.
	s.lease.extendErr = distlock.ErrNotHeld

	err := s.executor.Advance(context.Background(), inst)
	if !errors.Is(err, distlock.ErrNotHeld) {
		t.Fatalf("Advance = %v, want ErrNotHeld", err)
	}
	if len(s.gw.requests) != 1 {
		t.Errorf("gateway requests = %d, want just the pre-lapse send", len(s.gw.requests))
	}
	if inst.Status == domain.InstanceWaiting {
		t.Error("wait step ran without the lease")
	}

	// The completed send was persisted before the lapse, so a reclaiming
	// worker resumes past it instead of sending again.
	saved := s.instances.saved[inst.ID]
	if !saved.HasExecuted("send-welcome") {
		t.Error("persisted instance lost the executed send")
	}
}

func TestAdvance_PermanentSendFailureDoesNotHaltWorkflow(t *testing.T) {
	s := newScenario(t)
	inst := s.newInstance()

	s.gw.errs = []error{gateway.Permanent(context.Canceled)}

	if err := s.executor.Advance(context.Background(), inst); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(s.messages.failed) != 1 {
		t.Errorf("failed messages = %d, want 1", len(s.messages.failed))
	}
	// The workflow moved past the failed send into the wait
	if inst.Status != domain.InstanceWaiting {
		t.Errorf("status = %s, want waiting", inst.Status)
	}
}

func TestAdvance_TransientFailuresRetryWithinBudget(t *testing.T) {
	s := newScenario(t)
	inst := s.newInstance()

	s.gw.errs = []error{
		gateway.Transient(context.DeadlineExceeded),
		gateway.Transient(context.DeadlineExceeded),
	}

	if err := s.executor.Advance(context.Background(), inst); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(s.gw.requests) != 1 {
		t.Errorf("send did not succeed after retries: %d requests", len(s.gw.requests))
	}
	if len(s.messages.sent) != 1 {
		t.Errorf("sent messages = %d, want 1", len(s.messages.sent))
	}
	if len(s.publisher.events) != 1 || s.publisher.events[0].Kind != domain.EventSent {
		t.Errorf("sent event not published")
	}
}
