// Package ws is the websocket gateway workers connect through. It upgrades
// HTTP requests and registers the resulting connections with the fleet hub,
// which owns the frame protocol from there on.
package ws
