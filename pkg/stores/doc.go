// Package stores provides the persistence layer for fabric and resource
// inventory records, backed by SQLite with embedded migrations.
package stores
