// Package recorder persists subscription events to PostgreSQL.
//
// The event handler registered with the client only appends to an in-memory
// Buffer, so the client's read goroutine never waits on the database. A
// Writer drains the buffer in batches and inserts rows into sim_events with
// pgx.Batch, flushing when a batch fills or on a timer.
package recorder
