// Package main is the entry point for the ScriptMonkey server.
//
// The server hosts the userscript registry behind a REST API, renders
// pages in headless browser sessions with matching scripts injected and
// streams registry events over a WebSocket.
//
// Configuration:
//   - Environment variables (12-factor)
//   - An optional TOML file layered over the environment
//   - CLI flags (override both)
//
// Usage:
//
//	# Environment only
//	./server -port 8000
//
//	# With a config file
//	./server -config scriptmonkey.toml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
