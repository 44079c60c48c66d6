package ports

import "time"

// MetricsCollector records operational metrics. Implementations must be
// safe for concurrent use; a no-op implementation exists for tests.
type MetricsCollector interface {
	RecordItemCreated()
	RecordItemTerminal(state string, runtime time.Duration)
	RecordDispatch(result string)
	RecordTriggerFire(result string)
	RecordLLMCall(tier string, duration time.Duration, failed bool)
	RecordBroadcast(kind string, receivers int)
	RecordHeartbeatTimeout()
	SetFleetSize(connected, idle, busy int)
	SetQueueDepths(pending, ready, inflight int)
}

// Dispatch results recorded by RecordDispatch.
const (
	DispatchSent      = "sent"
	DispatchRetried   = "retried"
	DispatchExhausted = "exhausted"
)

// Trigger fire results recorded by RecordTriggerFire.
const (
	TriggerFireOK        = "ok"
	TriggerFireError     = "error"
	TriggerFireMalformed = "malformed"
)
