// Package ws streams registry changes to WebSocket clients.
//
// Every install, uninstall, move and edit is broadcast as a JSON message:
//
//	{"type": "script_event", "event": "install", "key": "...", "script": "ns/name", "payload": 0, "timestamp": 1700000000}
//
// Clients may send {"type": "ping"} and receive {"type": "pong"}. A client
// that cannot keep up is dropped.
package ws
