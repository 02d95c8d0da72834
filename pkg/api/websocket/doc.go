// Package websocket provides a push-based alternative to the HTTP
// server-sent-event subscribe endpoint: clients connect to
// /api/v1/runs/:id/ws and receive the same graph.RunEvent stream
// subscribe() would, framed as WebSocket text messages.
package websocket
