// Package noop provides a metrics collector that records nothing, for tests
// and metrics-less runs.
package noop

import "time"

// Collector discards every recording.
type Collector struct{}

// NewCollector creates a no-op collector.
func NewCollector() *Collector { return &Collector{} }

func (*Collector) RecordItemCreated()                                   {}
func (*Collector) RecordItemTerminal(state string, _ time.Duration)     {}
func (*Collector) RecordDispatch(result string)                         {}
func (*Collector) RecordTriggerFire(result string)                      {}
func (*Collector) RecordLLMCall(tier string, _ time.Duration, _ bool)   {}
func (*Collector) RecordBroadcast(kind string, receivers int)           {}
func (*Collector) RecordHeartbeatTimeout()                              {}
func (*Collector) SetFleetSize(connected, idle, busy int)               {}
func (*Collector) SetQueueDepths(pending, ready, inflight int)          {}
