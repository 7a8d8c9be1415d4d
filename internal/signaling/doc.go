// Package signaling is the server side of the room protocol: the HTTP room
// management API and the per-participant WebSocket channel that carries room
// requests and relays negotiation messages between the two occupants.
package signaling
