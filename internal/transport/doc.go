// Package transport defines the bidirectional text-frame channel the
// real-time client runs over, and its WebSocket implementation.
//
// A Transport instance is single-use: Open it once, exchange frames, Close
// it. Open returns immediately; the outcome of the handshake and every
// later event is reported through the Handler. Inbound frames are delivered
// from one goroutine, in arrival order, and OnMessage for one frame returns
// before the next frame is read.
package transport
