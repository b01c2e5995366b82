package heartbeat

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/zeta/pkg/log"
	"github.com/rs/zerolog"
)

const readChunk = 1024

// wireRecord is the JSON shape emitted on the wire. The timestamp is
// accepted as a JSON number so both an integer epoch and a float
// seconds-since-epoch value decode; it is normalized to whole seconds at
// this boundary instead of constraining the wire format.
type wireRecord struct {
	ContainerID string  `json:"containerId"`
	Timestamp   float64 `json:"timestamp"`
}

// Store is the subset of the metadata store the listener needs.
type Store interface {
	UpdateHeartbeat(containerIDPrefix string, timestamp int64) error
}

// Listener accepts heartbeat connections on a UNIX stream socket and
// forwards parsed records to a Store.
type Listener struct {
	socketPath string
	store      Store
	ln         net.Listener
	done       chan struct{}
	closeOnce  sync.Once
}

// NewListener returns an unbound Listener for socketPath; call Start to
// replace any stale socket file, bind, and begin accepting.
func NewListener(socketPath string, store Store) *Listener {
	return &Listener{socketPath: socketPath, store: store, done: make(chan struct{})}
}

// Start binds the UNIX socket at a temporary path and renames it over
// socketPath, so any stale socket file is replaced in a single step, then
// begins accepting connections serially in a background goroutine. Callers
// must call Close on shutdown.
func (l *Listener) Start() error {
	if err := os.MkdirAll(filepath.Dir(l.socketPath), 0o755); err != nil {
		return err
	}
	tmpPath := l.socketPath + ".tmp"
	if err := os.RemoveAll(tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	ln, err := net.Listen("unix", tmpPath)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, l.socketPath); err != nil {
		ln.Close()
		return err
	}
	l.ln = ln

	go l.acceptLoop()
	return nil
}

func (l *Listener) acceptLoop() {
	logger := log.WithComponent("heartbeat")
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				logger.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		l.handleConn(conn, logger)
	}
}

// handleConn reads the connection in 1 KiB chunks until EOF, concatenating
// fragments, then parses the result as a single JSON object. A connection
// that sends more than one JSON object is accepted but only the
// last-decodable record wins.
func (l *Listener) handleConn(conn net.Conn, logger zerolog.Logger) {
	defer conn.Close()

	var buf []byte
	chunk := make([]byte, readChunk)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}

	if len(buf) == 0 {
		return
	}

	rec, err := parseRecords(buf)
	if err != nil {
		logger.Warn().Err(err).Msg("malformed heartbeat payload, skipping")
		return
	}

	ts := int64(rec.Timestamp)
	if err := l.store.UpdateHeartbeat(rec.ContainerID, ts); err != nil {
		clogger := log.WithContainer(rec.ContainerID)
		clogger.Warn().Err(err).Msg("failed to update heartbeat")
	}
}

// parseRecords decodes a JSON-object stream that may contain more than one
// concatenated object and returns the last one, implementing
// last-write-wins semantics.
func parseRecords(buf []byte) (wireRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(buf))
	var last wireRecord
	seen := false
	for {
		var rec wireRecord
		if err := dec.Decode(&rec); err != nil {
			if seen {
				break
			}
			return wireRecord{}, err
		}
		last = rec
		seen = true
	}
	return last, nil
}

// Close stops accepting new connections and removes the socket file.
// Safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.ln != nil {
			err = l.ln.Close()
		}
		os.RemoveAll(l.socketPath)
	})
	return err
}

// Emit dials socketPath, sends one JSON heartbeat record, and closes the
// connection. Failures are returned to the caller, which must swallow
// them without failing the invocation.
func Emit(socketPath, containerID string, timestamp time.Time) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	rec := wireRecord{ContainerID: containerID, Timestamp: float64(timestamp.Unix())}
	return json.NewEncoder(conn).Encode(rec)
}
