// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/issues/:id/ws to receive the same frames
// as the server-sent event stream: a replay of the issue's latest session
// followed by live updates.
package websocket
