// Package negotiation drives one participant's side of a peer-to-peer
// handshake: media acquisition, offer/answer exchange, ICE candidate
// buffering and renegotiation after tracks change.
//
// A Machine is created per room membership. The client router feeds it the
// NEGOTIATION_PROTOCOL messages addressed to this participant; the machine
// talks back through a Signaler and drives a Transport, whose events
// (connection state, local candidates, inbound tracks and data channels)
// arrive on a channel rather than through callbacks.
package negotiation
