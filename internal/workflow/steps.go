package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/ignite/campaign-engine/internal/abtest"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/gateway"
	"github.com/ignite/campaign-engine/internal/pkg/backoff"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// CampaignSource loads campaign content for send steps.
type CampaignSource interface {
	Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*domain.Campaign, error)
}

// MessageRepo records send attempts and their outcomes.
type MessageRepo interface {
	Create(ctx context.Context, m *domain.CampaignMessage) error
	MarkSent(ctx context.Context, id uuid.UUID, gatewayID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// ABTestSource loads tests for variant selection on send steps.
type ABTestSource interface {
	GetAny(ctx context.Context, id uuid.UUID) (*domain.ABTest, []domain.ABTestVariant, error)
}

// SendMessageHandler dispatches a message through the gateway with a
// bounded retry budget. Exhausting the budget fails the message but never
// the workflow: the instance records the failure and moves on.
type SendMessageHandler struct {
	campaigns CampaignSource
	messages  MessageRepo
	abtests   ABTestSource
	allocator *abtest.Allocator
	gw        gateway.Gateway
	publisher events.Publisher
	budget    backoff.Budget
	timeout   time.Duration

	engine *liquid.Engine
	nowFn  func() time.Time
}

// NewSendMessageHandler wires the send step handler.
func NewSendMessageHandler(
	campaigns CampaignSource,
	messages MessageRepo,
	abtests ABTestSource,
	allocator *abtest.Allocator,
	gw gateway.Gateway,
	publisher events.Publisher,
	budget backoff.Budget,
	timeout time.Duration,
) *SendMessageHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SendMessageHandler{
		campaigns: campaigns,
		messages:  messages,
		abtests:   abtests,
		allocator: allocator,
		gw:        gw,
		publisher: publisher,
		budget:    budget,
		timeout:   timeout,
		engine:    liquid.NewEngine(),
		nowFn:     time.Now,
	}
}

// Execute resolves content, renders personalization, and dispatches.
func (h *SendMessageHandler) Execute(ctx context.Context, inst *domain.WorkflowInstance, step *domain.Step) (StepResult, error) {
	scope := tenant.NewScope(inst.OrganizationID)

	content, err := h.resolveContent(ctx, scope, inst, step)
	if err != nil {
		return StepResult{}, err
	}

	recipient := recipientFor(step.Config.Channel, inst.Variables)
	if recipient == "" {
		// No address for this channel: record and move on, same as a
		// permanent dispatch failure
		logger.Warn("contact has no address for channel",
			"instance_id", inst.ID.String(),
			"channel", string(step.Config.Channel))
		return StepResult{Action: ActionContinue}, nil
	}

	subject, err := h.render(content.subject, inst.Variables)
	if err != nil {
		return StepResult{}, fmt.Errorf("render subject: %w", err)
	}
	body, err := h.render(content.body, inst.Variables)
	if err != nil {
		return StepResult{}, fmt.Errorf("render content: %w", err)
	}

	msg := &domain.CampaignMessage{
		OrganizationID: inst.OrganizationID,
		CampaignID:     content.campaignID,
		InstanceID:     &inst.ID,
		ContactID:      inst.ContactID,
		VariantID:      content.variantID,
		Channel:        step.Config.Channel,
		Recipient:      recipient,
		Subject:        subject,
		Content:        body,
		Status:         domain.MessageQueued,
	}
	if err := h.messages.Create(ctx, msg); err != nil {
		return StepResult{}, fmt.Errorf("create message: %w", err)
	}

	gatewayID, sendErr := h.dispatch(ctx, gateway.SendRequest{
		MessageID: msg.ID,
		Channel:   step.Config.Channel,
		Recipient: recipient,
		Subject:   subject,
		Content:   body,
		FromName:  content.fromName,
		From:      content.fromAddress,
	})
	if sendErr != nil {
		if err := h.messages.MarkFailed(ctx, msg.ID, sendErr.Error()); err != nil {
			return StepResult{}, fmt.Errorf("mark message failed: %w", err)
		}
		logger.Error("message dispatch failed permanently",
			"instance_id", inst.ID.String(),
			"message_id", msg.ID.String(),
			"channel", string(step.Config.Channel),
			"error", sendErr.Error())
		return StepResult{Action: ActionContinue}, nil
	}

	if err := h.messages.MarkSent(ctx, msg.ID, gatewayID); err != nil {
		return StepResult{}, fmt.Errorf("mark message sent: %w", err)
	}
	if h.publisher != nil {
		evt := events.MessageEvent{
			Kind:           domain.EventSent,
			OrganizationID: inst.OrganizationID,
			CampaignID:     content.campaignID,
			MessageID:      msg.ID,
			ContactID:      inst.ContactID,
			VariantID:      content.variantID,
			Timestamp:      h.nowFn(),
		}
		if err := h.publisher.Publish(ctx, evt); err != nil {
			logger.Error("publish sent event failed", "message_id", msg.ID.String(), "error", err.Error())
		}
	}
	return StepResult{Action: ActionContinue}, nil
}

// dispatch runs the attempt loop: transient failures sleep out the backoff
// and retry, permanent failures and an exhausted budget stop it.
func (h *SendMessageHandler) dispatch(ctx context.Context, req gateway.SendRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt < h.budget.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, h.timeout)
		result, err := h.gw.Send(attemptCtx, req)
		cancel()
		if err == nil {
			return result.DeliveryID, nil
		}
		lastErr = err

		if !gateway.IsTransient(err) {
			return "", err
		}
		if attempt < h.budget.MaxAttempts-1 {
			if err := h.budget.Sleep(ctx, attempt); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("retry budget exhausted after %d attempts: %w", h.budget.MaxAttempts, lastErr)
}

type resolvedContent struct {
	campaignID  uuid.UUID
	variantID   *uuid.UUID
	subject     string
	body        string
	fromName    string
	fromAddress string
}

// resolveContent picks the message content: inline step config, campaign
// content, or an A/B variant when the step carries a test.
func (h *SendMessageHandler) resolveContent(ctx context.Context, scope tenant.Scope, inst *domain.WorkflowInstance, step *domain.Step) (resolvedContent, error) {
	out := resolvedContent{
		subject: step.Config.Subject,
		body:    step.Config.Content,
	}

	if step.Config.CampaignID != nil {
		c, err := h.campaigns.Get(ctx, scope, *step.Config.CampaignID)
		if err != nil {
			return out, fmt.Errorf("load campaign: %w", err)
		}
		out.campaignID = c.ID
		out.fromName = c.FromName
		out.fromAddress = c.FromAddress
		if out.subject == "" {
			out.subject = c.Subject
		}
		if out.body == "" {
			out.body = c.Content
		}
	}

	if step.Config.ABTestID == nil {
		return out, nil
	}

	test, variants, err := h.abtests.GetAny(ctx, *step.Config.ABTestID)
	if err != nil {
		return out, fmt.Errorf("load ab test: %w", err)
	}
	if err := scope.Check(test.OrganizationID); err != nil {
		return out, err
	}

	assignment, err := h.allocator.Assign(ctx, test, variants, inst.ContactID)
	if err != nil {
		return out, fmt.Errorf("assign variant: %w", err)
	}
	if assignment.Variant != nil {
		id := assignment.Variant.ID
		out.variantID = &id
		out.subject = assignment.Variant.Subject
		out.body = assignment.Variant.Content
	}
	// Holdout contacts keep the campaign's default content
	return out, nil
}

func (h *SendMessageHandler) render(tmpl string, vars map[string]any) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	bindings := map[string]interface{}(vars)
	if bindings == nil {
		bindings = map[string]interface{}{}
	}
	return h.engine.ParseAndRenderString(tmpl, bindings)
}

// recipientFor resolves the contact's address for a channel from the
// instance variables, which the trigger dispatcher seeds at enrollment.
func recipientFor(channel domain.CampaignType, vars map[string]any) string {
	var key string
	switch channel {
	case domain.CampaignEmail:
		key = "email"
	case domain.CampaignSMS, domain.CampaignWhatsApp:
		key = "phone"
	case domain.CampaignPush:
		key = "device_token"
	default:
		return ""
	}
	if v, ok := vars[key].(string); ok {
		return v
	}
	return ""
}

// WaitHandler suspends the instance until the configured delay elapses.
// It never blocks a worker: the result carries the resume time and the
// executor parks the instance.
type WaitHandler struct {
	nowFn func() time.Time
}

// NewWaitHandler creates the wait step handler.
func NewWaitHandler() *WaitHandler {
	return &WaitHandler{nowFn: time.Now}
}

func (h *WaitHandler) Execute(_ context.Context, inst *domain.WorkflowInstance, step *domain.Step) (StepResult, error) {
	resumeAt := h.nowFn().Add(step.Config.WaitDuration())
	logger.Debug("instance entering wait",
		"instance_id", inst.ID.String(),
		"step_id", step.ID,
		"resume_at", resumeAt.Format(time.RFC3339))
	return StepResult{Action: ActionWait, ResumeAt: resumeAt}, nil
}

// ConditionHandler routes the instance down the first branch whose guard
// passes; the last branch is the unguarded default. Guards read instance
// variables only, so evaluation is pure and re-runnable.
type ConditionHandler struct{}

// NewConditionHandler creates the condition step handler.
func NewConditionHandler() *ConditionHandler { return &ConditionHandler{} }

func (h *ConditionHandler) Execute(_ context.Context, inst *domain.WorkflowInstance, step *domain.Step) (StepResult, error) {
	if len(step.Next) == 0 {
		return StepResult{}, errors.New("condition step has no branches")
	}
	for i, g := range step.Config.Guards {
		if evalGuard(g, inst.Variables) {
			return StepResult{Action: ActionContinue, NextStepID: step.Next[i]}, nil
		}
	}
	return StepResult{Action: ActionContinue, NextStepID: step.Next[len(step.Next)-1]}, nil
}

// evalGuard applies one guard against the variables. Comparisons are
// numeric when both sides parse as numbers, string otherwise.
func evalGuard(g domain.Guard, vars map[string]any) bool {
	raw, present := vars[g.Field]

	if g.Op == "exists" {
		return present
	}
	if !present {
		return false
	}

	actual := fmt.Sprintf("%v", raw)
	if af, err1 := strconv.ParseFloat(actual, 64); err1 == nil {
		if ef, err2 := strconv.ParseFloat(g.Value, 64); err2 == nil {
			return compareFloat(g.Op, af, ef)
		}
	}
	switch g.Op {
	case "eq":
		return actual == g.Value
	case "neq":
		return actual != g.Value
	case "gt":
		return actual > g.Value
	case "gte":
		return actual >= g.Value
	case "lt":
		return actual < g.Value
	case "lte":
		return actual <= g.Value
	}
	return false
}

func compareFloat(op string, a, b float64) bool {
	switch op {
	case "eq":
		return a == b
	case "neq":
		return a != b
	case "gt":
		return a > b
	case "gte":
		return a >= b
	case "lt":
		return a < b
	case "lte":
		return a <= b
	}
	return false
}

// ActionFunc applies one named action to an instance's variables.
type ActionFunc func(ctx context.Context, inst *domain.WorkflowInstance, params map[string]string) error

// ActionHandler runs named side-effecting actions against the contact.
// Unknown actions fail the step so a typo in a workflow surfaces instead of
// silently doing nothing.
type ActionHandler struct {
	actions map[string]ActionFunc
}

// NewActionHandler creates the handler with the built-in actions.
func NewActionHandler() *ActionHandler {
	h := &ActionHandler{actions: make(map[string]ActionFunc)}
	h.Register("update_field", actionUpdateField)
	h.Register("add_tag", actionAddTag)
	h.Register("remove_tag", actionRemoveTag)
	return h
}

// Register adds a named action. Deployments register their own integration
// actions at startup.
func (h *ActionHandler) Register(name string, fn ActionFunc) {
	h.actions[name] = fn
}

func (h *ActionHandler) Execute(ctx context.Context, inst *domain.WorkflowInstance, step *domain.Step) (StepResult, error) {
	fn, ok := h.actions[step.Config.ActionName]
	if !ok {
		return StepResult{}, fmt.Errorf("unknown action %q", step.Config.ActionName)
	}
	if err := fn(ctx, inst, step.Config.ActionParams); err != nil {
		return StepResult{}, fmt.Errorf("action %q: %w", step.Config.ActionName, err)
	}
	return StepResult{Action: ActionContinue}, nil
}

func actionUpdateField(_ context.Context, inst *domain.WorkflowInstance, params map[string]string) error {
	field := params["field"]
	if field == "" {
		return errors.New("update_field requires a field param")
	}
	if inst.Variables == nil {
		inst.Variables = make(map[string]any)
	}
	inst.Variables[field] = params["value"]
	return nil
}

func actionAddTag(_ context.Context, inst *domain.WorkflowInstance, params map[string]string) error {
	tag := params["tag"]
	if tag == "" {
		return errors.New("add_tag requires a tag param")
	}
	if inst.Variables == nil {
		inst.Variables = make(map[string]any)
	}
	tags := toStringSlice(inst.Variables["tags"])
	for _, t := range tags {
		if t == tag {
			return nil
		}
	}
	inst.Variables["tags"] = append(tags, tag)
	return nil
}

func actionRemoveTag(_ context.Context, inst *domain.WorkflowInstance, params map[string]string) error {
	tag := params["tag"]
	if tag == "" {
		return errors.New("remove_tag requires a tag param")
	}
	if inst.Variables == nil {
		return nil
	}
	tags := toStringSlice(inst.Variables["tags"])
	out := tags[:0]
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	inst.Variables["tags"] = out
	return nil
}

// toStringSlice tolerates both []string and the []any that JSON
// round-tripping produces.
func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
