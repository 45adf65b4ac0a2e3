// Package database provides the PostgreSQL connection pool used by the
// event recorder.
package database
