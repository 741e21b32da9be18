package dispute

import (
	"fmt"
	"strings"
	"time"
)

// Human triage states. Independent of the processor status.
const (
	WorkflowNew              = "new"
	WorkflowInvestigating    = "investigating"
	WorkflowAwaitingEvidence = "awaiting_evidence"
	WorkflowReadyToSubmit    = "ready_to_submit"
	WorkflowDone             = "done"
)

var workflowStatuses = map[string]bool{
	WorkflowNew:              true,
	WorkflowInvestigating:    true,
	WorkflowAwaitingEvidence: true,
	WorkflowReadyToSubmit:    true,
	WorkflowDone:             true,
}

// WorkflowUpdate is a partial triage update; nil fields are left alone.
type WorkflowUpdate struct {
	Status        *string    `json:"workflowStatus,omitempty"`
	Owner         *string    `json:"owner,omitempty"`
	NextActionAt  *time.Time `json:"nextActionAt,omitempty"`
	InternalNotes *string    `json:"internalNotes,omitempty"`
}

// Apply validates u and writes it onto rec.
func (u WorkflowUpdate) Apply(rec *Record) error {
	if u.Status != nil {
		s := strings.ToLower(strings.TrimSpace(*u.Status))
		if !workflowStatuses[s] {
			return fmt.Errorf("%w: %q", ErrInvalidWorkflow, *u.Status)
		}
		rec.WorkflowStatus = s
	}
	if u.Owner != nil {
		rec.Owner = strings.TrimSpace(*u.Owner)
	}
	if u.NextActionAt != nil {
		rec.NextActionAt = cloneTime(u.NextActionAt)
	}
	if u.InternalNotes != nil {
		rec.InternalNotes = *u.InternalNotes
	}
	return nil
}
