package storage

const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runner_image (
	id  TEXT PRIMARY KEY,
	tag TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runner_container (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	port           INTEGER NOT NULL DEFAULT 8000,
	host_port      INTEGER NOT NULL,
	host_ip        TEXT NOT NULL,
	last_heartbeat INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS function (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	name                TEXT NOT NULL UNIQUE,
	created_at          INTEGER NOT NULL,
	runner_image_id     TEXT NOT NULL REFERENCES runner_image(id),
	runner_container_id TEXT REFERENCES runner_container(id)
);
`
