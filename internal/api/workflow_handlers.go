package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/tenant"
	"github.com/ignite/campaign-engine/internal/trigger"
	"github.com/ignite/campaign-engine/internal/workflow"
)

// SaveWorkflow validates and upserts a workflow. Graph problems come back
// as 422 with every issue listed, so the builder UI can show them all at
// once.
func (h *Handlers) SaveWorkflow(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	var wf domain.AutomationWorkflow
	if !httputil.Decode(w, r, &wf) {
		return
	}
	wf.OrganizationID = scope.OrganizationID

	if err := workflow.Validate(&wf); err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			httputil.JSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{
				Error:   "workflow validation failed",
				Code:    "invalid_workflow",
				Details: verr.Problems,
			})
			return
		}
		httputil.InternalError(w, err)
		return
	}

	if err := h.Workflows.Save(r.Context(), scope, &wf); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.Created(w, wf)
}

// GetWorkflow returns one workflow.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	wf, err := h.Workflows.Get(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, wf)
}

// ListWorkflows returns the tenant's workflows.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.Workflows.List(r.Context(), scopeFrom(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"workflows": workflows, "total": len(workflows)})
}

// ActivateWorkflow turns a workflow on.
func (h *Handlers) ActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	h.setWorkflowActive(w, r, true)
}

// DeactivateWorkflow turns a workflow off. Running instances finish on
// their own; deactivation only stops new enrollments.
func (h *Handlers) DeactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	h.setWorkflowActive(w, r, false)
}

func (h *Handlers) setWorkflowActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Workflows.SetActive(r.Context(), scopeFrom(r), id, active); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"is_active": active})
}

// GetInstance returns one workflow instance.
func (h *Handlers) GetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	inst, err := h.Instances.Get(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, inst)
}

// CancelInstance cancels a running or waiting instance. A worker mid-step
// finishes that step; the cancellation lands at the next eligibility scan.
func (h *Handlers) CancelInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Instances.Cancel(r.Context(), scopeFrom(r), id); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": string(domain.InstanceCancelled)})
}

// WorkflowStats returns instance counts by status.
func (h *Handlers) WorkflowStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	counts, err := h.Instances.CountByStatus(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, counts)
}

// IngestEvent accepts a business event and dispatches it to listening
// workflows. The event's tenant is the caller's, never the payload's.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	var evt trigger.BusinessEvent
	if !httputil.Decode(w, r, &evt) {
		return
	}
	evt.OrganizationID = scope.OrganizationID
	if evt.Name == "" {
		httputil.BadRequest(w, "event name is required")
		return
	}
	if evt.ContactID == uuid.Nil {
		httputil.BadRequest(w, "contact_id is required")
		return
	}

	if err := h.Events.HandleEvent(r.Context(), evt); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// NotifySegmentEntry records a contact entering a segment.
func (h *Handlers) NotifySegmentEntry(w http.ResponseWriter, r *http.Request) {
	h.notifySegment(w, r, h.Segments.NotifyEntry)
}

// NotifySegmentExit records a contact leaving a segment.
func (h *Handlers) NotifySegmentExit(w http.ResponseWriter, r *http.Request) {
	h.notifySegment(w, r, h.Segments.NotifyExit)
}

// notifySegment forwards a membership change to the watcher under the
// caller's tenant, so enrollment never crosses into another organization's
// workflows no matter whose segment id is posted.
func (h *Handlers) notifySegment(w http.ResponseWriter, r *http.Request, notify func(orgID, segmentID, contactID uuid.UUID)) {
	scope := scopeFrom(r)
	segmentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		ContactID uuid.UUID `json:"contact_id"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.ContactID == uuid.Nil {
		httputil.BadRequest(w, "contact_id is required")
		return
	}
	notify(scope.OrganizationID, segmentID, body.ContactID)
	httputil.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.BadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// writeStoreError maps store and guard errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, tenant.ErrIsolationViolation):
		httputil.Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, postgres.ErrInvalidTransition):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, postgres.ErrWinnerAlreadySet):
		httputil.Error(w, http.StatusConflict, "winner already declared")
	default:
		httputil.InternalError(w, err)
	}
}
