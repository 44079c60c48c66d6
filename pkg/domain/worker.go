package domain

import "time"

// WorkerState is the hub-side view of a connected worker.
type WorkerState string

const (
	WorkerIdle WorkerState = "idle"
	WorkerBusy WorkerState = "busy"
)

// WorkerInfo is a point-in-time snapshot of a fleet node, as exposed on the
// admin surface. The node itself lives only as long as its connection; the
// id is connection-scoped and never reused.
type WorkerInfo struct {
	ID            string      `json:"id"`
	Name          string      `json:"name,omitempty"`
	Tags          []string    `json:"tags,omitempty"`
	State         WorkerState `json:"state"`
	Assignment    string      `json:"assignment,omitempty"`
	ConnectedAt   time.Time   `json:"connectedAt"`
	LastHeartbeat time.Time   `json:"lastHeartbeat"`
}
