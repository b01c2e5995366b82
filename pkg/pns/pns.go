package pns

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"
)

const (
	minPort = 1024
	maxPort = 49151

	probeTimeout = 100 * time.Millisecond
)

// PNS is the Port Name System: a lock-protected mapping of host port to the
// function name it is allocated to.
type PNS struct {
	mu    sync.Mutex
	ports map[int]string
}

// New returns an empty PNS table.
func New() *PNS {
	return &PNS{ports: make(map[int]string)}
}

// Allocate picks a free host port in [1024,49151]: one not already in the
// PNS table, and not already bound by some other process on the host
// (checked with a 100ms local TCP dial probe). It does not assign the
// port; callers must follow up with Assign while still holding whatever
// lock makes the allocate-then-assign pair atomic for their use case (the
// orchestrator's per-function start lock).
func (p *PNS) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rangeSize := maxPort - minPort + 1
	candidate := minPort + rand.Intn(rangeSize)

	// Walk the whole range at most once, wrapping at maxPort so a
	// candidate never escapes the registered-port range.
	for i := 0; i < rangeSize; i++ {
		if _, taken := p.ports[candidate]; !taken && p.isFree(candidate) {
			return candidate, nil
		}
		candidate++
		if candidate > maxPort {
			candidate = minPort
		}
	}
	return 0, fmt.Errorf("pns: no free port in [%d,%d]", minPort, maxPort)
}

// isFree probes candidate with a short-timeout local TCP connect. A
// successful connect, or a connect that times out mid-handshake, means the
// port is in use; a connection refused means it is free.
func (p *PNS) isFree(candidate int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", candidate), probeTimeout)
	if err != nil {
		// A refused connection means nothing is listening: free. Any
		// other dial error (including a mid-handshake timeout) is
		// treated conservatively as "in use".
		return isConnectionRefused(err)
	}
	conn.Close()
	return false
}

// Assign records that port is now held by functionName. Must be called
// while the caller's per-function start lock is held, immediately after
// Allocate, to keep the allocate+assign pair atomic in this process.
func (p *PNS) Assign(port int, functionName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ports[port] = functionName
}

// Release frees port, if held. Safe to call even if the port was never
// assigned (e.g. cleanup after a failed allocation).
func (p *PNS) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ports, port)
}

// Clear empties the table. Used only by tests.
func (p *PNS) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ports = make(map[int]string)
}

// Lookup returns the function name holding port, if any.
func (p *PNS) Lookup(port int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.ports[port]
	return name, ok
}
