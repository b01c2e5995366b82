package heartbeat

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	updates []struct {
		prefix string
		ts     int64
	}
}

func (f *fakeStore) UpdateHeartbeat(containerIDPrefix string, timestamp int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, struct {
		prefix string
		ts     int64
	}{containerIDPrefix, timestamp})
	return nil
}

func (f *fakeStore) last() (string, int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return "", 0, false
	}
	last := f.updates[len(f.updates)-1]
	return last.prefix, last.ts, true
}

func newTestListener(t *testing.T) (*Listener, *fakeStore, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "docker_proxy.sock")
	store := &fakeStore{}
	l := NewListener(socketPath, store)
	require.NoError(t, l.Start())
	t.Cleanup(func() { l.Close() })
	return l, store, socketPath
}

func TestEmitThenListenerUpdatesStore(t *testing.T) {
	_, store, socketPath := newTestListener(t)

	now := time.Now()
	require.NoError(t, Emit(socketPath, "abc123", now))

	require.Eventually(t, func() bool {
		_, _, ok := store.last()
		return ok
	}, time.Second, 10*time.Millisecond)

	prefix, ts, _ := store.last()
	assert.Equal(t, "abc123", prefix)
	assert.Equal(t, now.Unix(), ts)
}

func TestListenerAcceptsFloatTimestamp(t *testing.T) {
	_, store, socketPath := newTestListener(t)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"containerId":"fn1","timestamp":1700000000.5}`))
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		_, _, ok := store.last()
		return ok
	}, time.Second, 10*time.Millisecond)

	prefix, ts, _ := store.last()
	assert.Equal(t, "fn1", prefix)
	assert.Equal(t, int64(1700000000), ts)
}

func TestListenerSkipsMalformedPayload(t *testing.T) {
	_, store, socketPath := newTestListener(t)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	_, err = conn.Write([]byte("not json"))
	require.NoError(t, err)
	conn.Close()

	time.Sleep(50 * time.Millisecond)
	_, _, ok := store.last()
	assert.False(t, ok, "a malformed payload must not reach the store")
}

func TestListenerLastWriteWinsOnMultipleObjects(t *testing.T) {
	_, store, socketPath := newTestListener(t)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"containerId":"first","timestamp":1}{"containerId":"second","timestamp":2}`))
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		_, _, ok := store.last()
		return ok
	}, time.Second, 10*time.Millisecond)

	prefix, ts, _ := store.last()
	assert.Equal(t, "second", prefix)
	assert.Equal(t, int64(2), ts)
}

func TestCloseRemovesSocketFile(t *testing.T) {
	l, _, socketPath := newTestListener(t)
	require.NoError(t, l.Close())

	_, err := net.Dial("unix", socketPath)
	assert.Error(t, err, "socket file must be removed on close")
}

func TestEmitFailsWhenNoListener(t *testing.T) {
	err := Emit(filepath.Join(t.TempDir(), "missing.sock"), "abc", time.Now())
	assert.Error(t, err)
}
