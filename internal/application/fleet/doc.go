// Package fleet implements the worker fleet hub.
//
// The hub owns every live worker connection:
//   - Registration hands it an upgraded connection plus the worker's
//     declared capability tags
//   - A per-connection read loop consumes heartbeat, ack, and result frames
//   - A sweep loop evicts workers silent past the liveness timeout and
//     returns their assignment to the dispatch queue
//   - Broadcasts (config, update) fan out one independent send per
//     connection, best-effort
//
// The hub implements the dispatcher's WorkerGateway: reserving an idle
// worker whose tags satisfy an item's affinity hint, at most one assignment
// per worker.
package fleet
