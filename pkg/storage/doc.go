/*
Package storage is Zeta's durable metadata store: a relational registry of
functions, the runner images built for them, and the runner containers
currently serving them, backed by modernc.org/sqlite through database/sql.

A schema_migrations guard row lets cmd/zeta-server refuse to start against
an incompatible database file. All compound operations (e.g. inserting a
container row and linking it to its function) run inside a single *sql.Tx.
Foreign keys are enabled per-connection since SQLite does not enforce them
by default.
*/
package storage
