// Package database manages the PostgreSQL connection pool used by the
// postgres record store. Connection parameters come from the storage
// section of the monitor config.
package database
