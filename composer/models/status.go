package models

type StatusKind string

const (
	StatusKindPending   StatusKind = "pending"
	StatusKindRunning   StatusKind = "running"
	StatusKindFailed    StatusKind = "failed"
	StatusKindSucceeded StatusKind = "succeeded"
)

// RunStatus is the event-journal payload for one run transition,
// streamed to websocket subscribers as-is.
type RunStatus struct {
	UID       string  `json:"uid"`
	Release   string  `json:"release"`
	Status    string  `json:"status"`
	Error     *string `json:"error,omitempty"`
	ExitCode  *int64  `json:"exitCode,omitempty"`
	CreatedAt string  `json:"createdAt"`
}
