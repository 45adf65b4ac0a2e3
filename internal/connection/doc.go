// Package connection implements the real-time client.
//
// A Client owns exactly one logical connection to the simulation backend:
//   - Drives the Disconnected/Connecting/Connected/Reconnecting/Failed state machine
//   - Reconnects with exponential backoff up to a configured attempt limit
//   - Correlates request/response frames by id, with per-request deadlines
//   - Tracks (channel, resource id) subscriptions and replays them after reconnect
//   - Buffers outbound frames while not connected and flushes them in order
//   - Sends heartbeat frames while connected
//
// Inbound frames are dispatched one at a time on the transport's read
// goroutine. Event handlers and the status callback run outside the client's
// lock and may call back into the Client, but an event handler must not
// wait on Send: responses are read by the same goroutine.
package connection
