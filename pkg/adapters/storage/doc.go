// Package storage provides repository implementations for work items,
// dependency edges, and triggers.
//
// Implementations:
//   - redis: JSON values under muster:* keys, SCAN-based listing, optional
//     TTL on terminal items
//   - memory: in-memory twin for tests and storage-less runs
package storage
