// Package client is the participant side of the room signaling protocol: a
// WebSocket channel to the server, a Session that routes room notifications
// and feeds negotiation messages into a negotiation.Machine, a client for the
// room management API and the chat frames exchanged over the data channel.
package client
