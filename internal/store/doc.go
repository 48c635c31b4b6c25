// Package store persists the podcast library in SQLite and exposes the
// transactional operations the coordinators drive it with.
//
// The Store owns the database connection, schema initialization, and all
// reads and writes for feeds, episodes, and groups. Feed merges run as one
// transaction per feed so a failed fetch can never leave a partially merged
// episode list. The library coordinator is the sole writer; snapshot reads
// for presentation may run concurrently.
//
// Treat this package as the single source of truth for library semantics;
// when you add new statuses or columns, update schema.sql and bump
// schemaVersion.
package store
