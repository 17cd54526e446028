// Package signaling defines the control messages two call participants
// exchange through the relay, and a WebSocket client that carries them.
//
// Messages are unauthenticated: any participant of a session can send any
// message type, including forged offers. The optional "from" field is a
// hint used only to break offer glare deterministically.
package signaling
