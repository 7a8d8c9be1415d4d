// Package protocol defines the envelope exchanged between participants and
// the signaling server, and the request/response bodies of the room API.
//
// Every duplex-channel frame is a JSON object {"label": ..., "data": {...}}.
// ROOM_PROTOCOL data is interpreted by the server; NEGOTIATION_PROTOCOL data is
// relayed to data.otherUserId without being decoded further.
package protocol
