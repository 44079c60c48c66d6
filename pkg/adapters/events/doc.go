// Package events provides audit event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups, capped stream length
//   - memory: in-memory dispatch for tests
package events
