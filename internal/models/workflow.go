package models

import "time"

// WorkflowState is the state of the file-processing workflow.
type WorkflowState string

const (
	WorkflowIdle       WorkflowState = "idle"
	WorkflowValidating WorkflowState = "validating"
	WorkflowSubmitting WorkflowState = "submitting"
	WorkflowSucceeded  WorkflowState = "succeeded"
	WorkflowFailed     WorkflowState = "failed"
)

// Terminal reports whether no further automatic transition can occur.
func (s WorkflowState) Terminal() bool {
	return s == WorkflowSucceeded || s == WorkflowFailed
}

// Snapshot is a read-only copy of the workflow handed to presentation.
type Snapshot struct {
	State       WorkflowState     `json:"state"`
	Version     uint64            `json:"version"`           // bumped on every transition
	Attempt     uint64            `json:"attempt,omitempty"` // current submission attempt
	FileName    string            `json:"fileName,omitempty"`
	FileSize    int64             `json:"fileSize,omitempty"`
	SubmittedAt *time.Time        `json:"submittedAt,omitempty"`
	Result      *ProcessingResult `json:"result,omitempty"`
	Rejection   string            `json:"rejection,omitempty"` // last validation rejection
}
