package domain

import "encoding/json"

// Worker wire protocol. Frames are JSON text messages on the fleet
// websocket; unknown fields are ignored on both sides so workers and core
// can upgrade independently.

// InboundType enumerates worker-to-core frames.
type InboundType string

const (
	InboundHeartbeat InboundType = "heartbeat"
	InboundAck       InboundType = "ack"
	InboundResult    InboundType = "result"
)

// Inbound is a frame received from a worker. Every inbound frame, whatever
// its type, refreshes the sender's liveness.
type Inbound struct {
	Type    InboundType     `json:"type"`
	ItemID  string          `json:"itemId,omitempty"`
	Success bool            `json:"success,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// OutboundType enumerates core-to-worker frames.
type OutboundType string

const (
	OutboundDispatch OutboundType = "dispatch"
	OutboundAbandon  OutboundType = "abandon"
	OutboundConfig   OutboundType = "config"
	OutboundUpdate   OutboundType = "update"
)

// Outbound is a frame sent to a worker. Dispatch and abandon target one
// worker; config and update are broadcast, best-effort.
type Outbound struct {
	Type             OutboundType    `json:"type"`
	ItemID           string          `json:"itemId,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Version          string          `json:"version,omitempty"`
	ArtifactLocation string          `json:"artifactLocation,omitempty"`
}

// DispatchPayload is the payload carried by a dispatch frame.
type DispatchPayload struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	WorkflowID  string `json:"workflowId,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Attempt     int    `json:"attempt"`
}

// NewDispatch builds the dispatch frame for an item.
func NewDispatch(item *WorkItem) (*Outbound, error) {
	payload, err := json.Marshal(DispatchPayload{
		Title:       item.Title,
		Description: item.Description,
		WorkflowID:  item.WorkflowID,
		Stage:       item.Stage,
		Attempt:     item.Attempts,
	})
	if err != nil {
		return nil, err
	}
	return &Outbound{Type: OutboundDispatch, ItemID: item.ID, Payload: payload}, nil
}
