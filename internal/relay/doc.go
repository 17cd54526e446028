// Package relay is the signaling fan-out bus. Every message a participant
// sends is delivered, byte for byte, to every other participant currently
// connected to the same session. The relay never parses payloads.
//
// Each connection owns a bounded FIFO drained by a single writer, so one
// slow or dead recipient never delays the others and per-sender order is
// preserved.
package relay
