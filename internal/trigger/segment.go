package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// SegmentWatcher turns segment-entry notifications into enrollments.
// Segment recomputation can emit bursts of enter/leave flaps for the same
// contact; the watcher coalesces notifications per (segment, contact) over
// a debounce window and enrolls once per settled entry.
type SegmentWatcher struct {
	workflows  WorkflowFinder
	dispatcher *Dispatcher
	window     time.Duration

	mu      sync.Mutex
	pending map[segmentEntry]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

type segmentEntry struct {
	orgID     uuid.UUID
	segmentID uuid.UUID
	contactID uuid.UUID
}

// NewSegmentWatcher creates a watcher with the given debounce window.
func NewSegmentWatcher(workflows WorkflowFinder, dispatcher *Dispatcher, window time.Duration) *SegmentWatcher {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &SegmentWatcher{
		workflows:  workflows,
		dispatcher: dispatcher,
		window:     window,
		pending:    make(map[segmentEntry]*time.Timer),
	}
}

// NotifyEntry records that a contact entered a segment on behalf of the
// given tenant. Repeated notifications within the window reset the timer;
// enrollment happens once the entry has been stable for a full window, and
// only into workflows owned by the notifying tenant.
func (w *SegmentWatcher) NotifyEntry(orgID, segmentID, contactID uuid.UUID) {
	key := segmentEntry{orgID: orgID, segmentID: segmentID, contactID: contactID}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.pending[key]; ok {
		timer.Reset(w.window)
		return
	}

	w.wg.Add(1)
	w.pending[key] = time.AfterFunc(w.window, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.pending, key)
		w.mu.Unlock()
		w.fire(key)
	})
}

// NotifyExit cancels a pending enrollment: the contact left the segment
// before the entry settled.
func (w *SegmentWatcher) NotifyExit(orgID, segmentID, contactID uuid.UUID) {
	key := segmentEntry{orgID: orgID, segmentID: segmentID, contactID: contactID}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[key]; ok {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, key)
	}
}

// Stop cancels all pending timers and waits for in-flight firings.
func (w *SegmentWatcher) Stop() {
	w.mu.Lock()
	w.closed = true
	for key, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, key)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *SegmentWatcher) fire(key segmentEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workflows, err := w.workflows.ListActiveBySegment(ctx, key.segmentID)
	if err != nil {
		logger.Error("list segment workflows failed",
			"segment_id", key.segmentID.String(),
			"error", err.Error())
		return
	}

	for i := range workflows {
		if workflows[i].OrganizationID != key.orgID {
			// Same segment id claimed by another tenant's workflow
			continue
		}
		if err := w.dispatcher.Enroll(ctx, &workflows[i], key.contactID, map[string]any{
			"segment_id": key.segmentID.String(),
		}); err != nil {
			logger.Error("segment enrollment failed",
				"workflow_id", workflows[i].ID.String(),
				"contact_id", key.contactID.String(),
				"error", err.Error())
		}
	}
}
