// Package gateway implements the client side of the remote agent
// gateway's wire protocol: frame encoding, the challenge-response
// device handshake, request/response correlation, and typed event
// dispatch, over a persistent github.com/gorilla/websocket connection.
package gateway
