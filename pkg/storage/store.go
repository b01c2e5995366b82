package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cuemby/zeta/pkg/types"

	_ "modernc.org/sqlite"
)

// Store is the durable metadata registry of functions, runner images, and
// runner containers.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite-backed metadata store at
// path, applies the schema idempotently, enables per-connection foreign-key
// enforcement, and refuses to start against a database carrying an
// incompatible schema_migrations version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, types.Wrap(types.KindStoreError, "open database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite + concurrent writers need serialization

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, types.Wrap(types.KindStoreError, "enable foreign keys", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, types.Wrap(types.KindStoreError, "apply schema", err)
	}

	if err := checkOrStampSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func checkOrStampSchemaVersion(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return types.Wrap(types.KindStoreError, "read schema_migrations", err)
	}
	if count == 0 {
		_, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", schemaVersion)
		if err != nil {
			return types.Wrap(types.KindStoreError, "stamp schema_migrations", err)
		}
		return nil
	}

	var version int
	if err := db.QueryRow("SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return types.Wrap(types.KindStoreError, "read schema_migrations version", err)
	}
	if version != schemaVersion {
		return types.NewError(types.KindStoreError,
			fmt.Sprintf("database schema version %d is incompatible with this binary's version %d", version, schemaVersion))
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// InsertImage records a built runner image.
func (s *Store) InsertImage(image types.RunnerImage) error {
	_, err := s.db.Exec("INSERT INTO runner_image (id, tag) VALUES (?, ?)", image.ID, image.Tag)
	if err != nil {
		return types.Wrap(types.KindStoreError, "insert runner image", err)
	}
	return nil
}

// InsertFunction registers a function, bound to an already-inserted runner
// image, in one transaction so the Function/RunnerImage link exists
// atomically.
func (s *Store) InsertFunction(name string, createdAt time.Time, imageID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return types.Wrap(types.KindStoreError, "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO function (name, created_at, runner_image_id) VALUES (?, ?, ?)",
		name, createdAt.Unix(), imageID,
	)
	if err != nil {
		return types.Wrap(types.KindStoreError, "insert function", err)
	}
	return wrapCommit(tx)
}

// InsertContainer transactionally inserts a runner_container row and links
// it to its owning function.
func (s *Store) InsertContainer(functionName string, c types.RunnerContainer) error {
	tx, err := s.db.Begin()
	if err != nil {
		return types.Wrap(types.KindStoreError, "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runner_container (id, name, port, host_port, host_ip, last_heartbeat)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.ContainerPort, c.HostPort, c.HostIP, c.LastHeartbeat,
	)
	if err != nil {
		return types.Wrap(types.KindStoreError, "insert runner container", err)
	}

	res, err := tx.Exec(
		"UPDATE function SET runner_container_id = ? WHERE name = ?",
		c.ID, functionName,
	)
	if err != nil {
		return types.Wrap(types.KindStoreError, "link runner container to function", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.KindNotFound, "function not found: "+functionName)
	}
	return wrapCommit(tx)
}

// UpdateHeartbeat applies the last-writer-wins liveness update for the
// container whose ID starts with containerIDPrefix (the runner reports a
// short ID). A no-op if no row matches: the container may have just been
// reaped.
func (s *Store) UpdateHeartbeat(containerIDPrefix string, timestamp int64) error {
	_, err := s.db.Exec(
		"UPDATE runner_container SET last_heartbeat = ? WHERE id LIKE ? AND last_heartbeat <= ?",
		timestamp, containerIDPrefix+"%", timestamp,
	)
	if err != nil {
		return types.Wrap(types.KindStoreError, "update heartbeat", err)
	}
	return nil
}

// DeleteContainerOfFunction removes the function's current runner_container
// row (if any) and clears the function's link to it.
func (s *Store) DeleteContainerOfFunction(functionName string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return types.Wrap(types.KindStoreError, "begin transaction", err)
	}
	defer tx.Rollback()

	var containerID sql.NullString
	err = tx.QueryRow("SELECT runner_container_id FROM function WHERE name = ?", functionName).Scan(&containerID)
	if err == sql.ErrNoRows {
		return tx.Commit()
	}
	if err != nil {
		return types.Wrap(types.KindStoreError, "read function container link", err)
	}

	if _, err := tx.Exec("UPDATE function SET runner_container_id = NULL WHERE name = ?", functionName); err != nil {
		return types.Wrap(types.KindStoreError, "unlink runner container", err)
	}
	if containerID.Valid {
		if _, err := tx.Exec("DELETE FROM runner_container WHERE id = ?", containerID.String); err != nil {
			return types.Wrap(types.KindStoreError, "delete runner container", err)
		}
	}
	return wrapCommit(tx)
}

// DeleteFunction removes the function row and its runner_image row. The
// caller is responsible for having already removed any runner_container
// row and the engine-side images.
func (s *Store) DeleteFunction(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return types.Wrap(types.KindStoreError, "begin transaction", err)
	}
	defer tx.Rollback()

	var imageID string
	err = tx.QueryRow("SELECT runner_image_id FROM function WHERE name = ?", name).Scan(&imageID)
	if err == sql.ErrNoRows {
		return tx.Commit()
	}
	if err != nil {
		return types.Wrap(types.KindStoreError, "read function image link", err)
	}

	if _, err := tx.Exec("DELETE FROM function WHERE name = ?", name); err != nil {
		return types.Wrap(types.KindStoreError, "delete function", err)
	}
	if _, err := tx.Exec("DELETE FROM runner_image WHERE id = ?", imageID); err != nil {
		return types.Wrap(types.KindStoreError, "delete runner image", err)
	}
	return wrapCommit(tx)
}

const selectFunctionJoin = `
SELECT f.name, f.created_at, ri.tag, rc.id, rc.host_port, rc.host_ip, rc.last_heartbeat
FROM function f
JOIN runner_image ri ON ri.id = f.runner_image_id
LEFT JOIN runner_container rc ON rc.id = f.runner_container_id
`

// FetchAllFunctions returns every registered function joined with its
// image tag and, if live, its container.
func (s *Store) FetchAllFunctions() ([]types.FunctionMetadata, error) {
	rows, err := s.db.Query(selectFunctionJoin)
	if err != nil {
		return nil, types.Wrap(types.KindStoreError, "fetch functions", err)
	}
	defer rows.Close()

	var out []types.FunctionMetadata
	for rows.Next() {
		fm, err := scanFunctionMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fm)
	}
	return out, rows.Err()
}

// FetchFunctionByName returns one function's metadata, or KindNotFound.
func (s *Store) FetchFunctionByName(name string) (types.FunctionMetadata, error) {
	row := s.db.QueryRow(selectFunctionJoin+" WHERE f.name = ?", name)
	fm, err := scanFunctionMetadata(row)
	if err == sql.ErrNoRows {
		return types.FunctionMetadata{}, types.NewError(types.KindNotFound, "function not found: "+name)
	}
	if err != nil {
		return types.FunctionMetadata{}, err
	}
	return fm, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFunctionMetadata(row rowScanner) (types.FunctionMetadata, error) {
	var (
		name          string
		createdAt     int64
		tag           string
		containerID   sql.NullString
		hostPort      sql.NullInt64
		hostIP        sql.NullString
		lastHeartbeat sql.NullInt64
	)
	if err := row.Scan(&name, &createdAt, &tag, &containerID, &hostPort, &hostIP, &lastHeartbeat); err != nil {
		if err == sql.ErrNoRows {
			return types.FunctionMetadata{}, err
		}
		return types.FunctionMetadata{}, types.Wrap(types.KindStoreError, "scan function row", err)
	}

	fm := types.FunctionMetadata{
		Name:           name,
		CreatedAt:      time.Unix(createdAt, 0).UTC(),
		RunnerImageTag: tag,
	}
	if containerID.Valid {
		fm.ContainerID = containerID.String
		fm.HostPort = int(hostPort.Int64)
		if lastHeartbeat.Valid && lastHeartbeat.Int64 > 0 {
			t := time.Unix(lastHeartbeat.Int64, 0).UTC()
			fm.LastHeartbeatAt = &t
		}
	}
	return fm, nil
}

// FetchRunnerContainer returns the live runner_container row for a
// function name, if any.
func (s *Store) FetchRunnerContainer(functionName string) (types.RunnerContainer, bool, error) {
	row := s.db.QueryRow(`
		SELECT rc.id, rc.name, rc.port, rc.host_port, rc.host_ip, rc.last_heartbeat
		FROM runner_container rc
		JOIN function f ON f.runner_container_id = rc.id
		WHERE f.name = ?`, functionName)

	var c types.RunnerContainer
	err := row.Scan(&c.ID, &c.Name, &c.ContainerPort, &c.HostPort, &c.HostIP, &c.LastHeartbeat)
	if err == sql.ErrNoRows {
		return types.RunnerContainer{}, false, nil
	}
	if err != nil {
		return types.RunnerContainer{}, false, types.Wrap(types.KindStoreError, "fetch runner container", err)
	}
	return c, true, nil
}

// FetchImageForFunction returns the runner_image row bound to a function.
func (s *Store) FetchImageForFunction(functionName string) (types.RunnerImage, error) {
	row := s.db.QueryRow(`
		SELECT ri.id, ri.tag FROM runner_image ri
		JOIN function f ON f.runner_image_id = ri.id
		WHERE f.name = ?`, functionName)

	var img types.RunnerImage
	if err := row.Scan(&img.ID, &img.Tag); err != nil {
		if err == sql.ErrNoRows {
			return types.RunnerImage{}, types.NewError(types.KindNotFound, "function not found: "+functionName)
		}
		return types.RunnerImage{}, types.Wrap(types.KindStoreError, "fetch function image", err)
	}
	return img, nil
}

// FunctionExists reports whether a function with this name is registered.
func (s *Store) FunctionExists(name string) (bool, error) {
	var exists int
	err := s.db.QueryRow("SELECT 1 FROM function WHERE name = ?", name).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, types.Wrap(types.KindStoreError, "check function existence", err)
	}
	return true, nil
}

// FunctionsWithIdleContainers returns the name and last-heartbeat of every
// function that currently has a live runner container, for the reaper's
// periodic scan.
func (s *Store) FunctionsWithIdleContainers() ([]types.FunctionMetadata, error) {
	rows, err := s.db.Query(selectFunctionJoin + " WHERE rc.id IS NOT NULL")
	if err != nil {
		return nil, types.Wrap(types.KindStoreError, "fetch functions with containers", err)
	}
	defer rows.Close()

	var out []types.FunctionMetadata
	for rows.Next() {
		fm, err := scanFunctionMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fm)
	}
	return out, rows.Err()
}

func wrapCommit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return types.Wrap(types.KindStoreError, "commit transaction", err)
	}
	return nil
}
