// Package clock abstracts timers so reconnection, heartbeat and request
// expiry can run against real time in production and a manually advanced
// clock in tests.
package clock
