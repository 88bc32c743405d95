package workflow

import (
	"fmt"
	"strings"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ValidationError lists everything wrong with a workflow's step graph. It
// is returned from Validate at save time; a workflow that passed Validate
// never needs run-time graph checks.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid workflow: " + strings.Join(e.Problems, "; ")
}

var validGuardOps = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true,
	"lt": true, "lte": true, "exists": true,
}

// Validate checks that the workflow's steps form an executable graph: a
// single entry, all references resolving, no cycles, no unreachable steps,
// and per-kind config that the handlers can run.
func Validate(w *domain.AutomationWorkflow) error {
	var problems []string

	if len(w.Steps) == 0 {
		problems = append(problems, "workflow has no steps")
		return &ValidationError{Problems: problems}
	}

	byID := make(map[string]*domain.Step, len(w.Steps))
	for i := range w.Steps {
		s := &w.Steps[i]
		if s.ID == "" {
			problems = append(problems, fmt.Sprintf("step %d has no id", i))
			continue
		}
		if _, dup := byID[s.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate step id %q", s.ID))
			continue
		}
		byID[s.ID] = s
	}

	for _, s := range w.Steps {
		for _, next := range s.Next {
			if _, ok := byID[next]; !ok {
				problems = append(problems, fmt.Sprintf("step %q references unknown step %q", s.ID, next))
			}
		}
		problems = append(problems, validateStepConfig(&s)...)
	}

	entries := w.EntrySteps()
	switch {
	case len(entries) == 0:
		problems = append(problems, "no entry step: every step is referenced by another")
	case len(entries) > 1:
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		problems = append(problems, "multiple entry steps: "+strings.Join(ids, ", "))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	// Cycle and reachability checks only make sense on a resolvable graph
	if cycle := findCycle(entries[0].ID, byID); cycle != "" {
		problems = append(problems, "cycle detected through step "+cycle)
	}
	if unreachable := findUnreachable(entries[0].ID, w.Steps, byID); len(unreachable) > 0 {
		problems = append(problems, "unreachable steps: "+strings.Join(unreachable, ", "))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateStepConfig(s *domain.Step) []string {
	var problems []string
	switch s.Kind {
	case domain.StepSendMessage:
		if s.Config.Channel == "" {
			problems = append(problems, fmt.Sprintf("send step %q has no channel", s.ID))
		}
		if s.Config.CampaignID == nil && s.Config.Content == "" {
			problems = append(problems, fmt.Sprintf("send step %q has neither campaign nor inline content", s.ID))
		}
		if len(s.Next) > 1 {
			problems = append(problems, fmt.Sprintf("send step %q has %d outgoing edges, want at most 1", s.ID, len(s.Next)))
		}
	case domain.StepWait:
		if s.Config.DelayValue < 0 {
			problems = append(problems, fmt.Sprintf("wait step %q has negative delay", s.ID))
		}
		if len(s.Next) > 1 {
			problems = append(problems, fmt.Sprintf("wait step %q has %d outgoing edges, want at most 1", s.ID, len(s.Next)))
		}
	case domain.StepCondition:
		if len(s.Next) < 1 {
			problems = append(problems, fmt.Sprintf("condition step %q has no branches", s.ID))
		}
		if len(s.Config.Guards) != len(s.Next)-1 {
			problems = append(problems, fmt.Sprintf(
				"condition step %q has %d guards for %d branches; the last branch is the unguarded default",
				s.ID, len(s.Config.Guards), len(s.Next)))
		}
		for _, g := range s.Config.Guards {
			if g.Field == "" {
				problems = append(problems, fmt.Sprintf("condition step %q has a guard with no field", s.ID))
			}
			if !validGuardOps[g.Op] {
				problems = append(problems, fmt.Sprintf("condition step %q uses unknown op %q", s.ID, g.Op))
			}
		}
	case domain.StepAction:
		if s.Config.ActionName == "" {
			problems = append(problems, fmt.Sprintf("action step %q has no action name", s.ID))
		}
		if len(s.Next) > 1 {
			problems = append(problems, fmt.Sprintf("action step %q has %d outgoing edges, want at most 1", s.ID, len(s.Next)))
		}
	default:
		problems = append(problems, fmt.Sprintf("step %q has unknown kind %q", s.ID, s.Kind))
	}
	return problems
}

// findCycle runs a colored DFS from the entry; returns the id of a step on
// a cycle, or "".
func findCycle(entry string, byID map[string]*domain.Step) string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, next := range byID[id].Next {
			switch color[next] {
			case grey:
				return next
			case white:
				if hit := visit(next); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}
	return visit(entry)
}

func findUnreachable(entry string, steps []domain.Step, byID map[string]*domain.Step) []string {
	seen := make(map[string]bool, len(byID))
	stack := []string{entry}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, byID[id].Next...)
	}

	var out []string
	for _, s := range steps {
		if !seen[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}
