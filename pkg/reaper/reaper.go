package reaper

import (
	"context"
	"time"

	"github.com/cuemby/zeta/pkg/engine"
	"github.com/cuemby/zeta/pkg/log"
	"github.com/cuemby/zeta/pkg/metrics"
	"github.com/cuemby/zeta/pkg/pns"
	"github.com/cuemby/zeta/pkg/types"

	"github.com/rs/zerolog"
)

// ScanInterval is how often the reaper scans for idle containers.
const ScanInterval = 15 * time.Second

// IdleTimeout is the default duration a container may go without a
// heartbeat before it is reaped.
const IdleTimeout = 30 * time.Second

// Store is the subset of the metadata store the reaper needs.
type Store interface {
	FunctionsWithIdleContainers() ([]types.FunctionMetadata, error)
	DeleteContainerOfFunction(functionName string) error
}

// Reaper scans the store every ScanInterval and stops+removes containers
// that have gone idle.
type Reaper struct {
	store   Store
	engine  engine.Engine
	pns     *pns.PNS
	logger  zerolog.Logger
	stopCh  chan struct{}
	timeout time.Duration
}

// New returns a Reaper using the default idle timeout.
func New(store Store, eng engine.Engine, p *pns.PNS) *Reaper {
	return &Reaper{
		store:   store,
		engine:  eng,
		pns:     p,
		logger:  log.WithComponent("reaper"),
		stopCh:  make(chan struct{}),
		timeout: IdleTimeout,
	}
}

// Start begins the reaper's scan loop in a background goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop terminates the scan loop.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

func (r *Reaper) run() {
	ticker := time.NewTicker(ScanInterval)
	defer ticker.Stop()

	r.logger.Info().Msg("reaper started")

	for {
		select {
		case <-ticker.C:
			r.scan()
		case <-r.stopCh:
			r.logger.Info().Msg("reaper stopped")
			return
		}
	}
}

// scan performs one reconciliation pass: each idle function's container is
// evaluated and reaped independently so a single failure does not abort
// the rest of the cycle.
func (r *Reaper) scan() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReaperCycleDuration)

	functions, err := r.store.FunctionsWithIdleContainers()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list functions with containers")
		return
	}

	now := time.Now()
	for _, fn := range functions {
		if fn.LastHeartbeatAt == nil {
			continue // container still initializing, never heartbeated
		}
		if now.Sub(*fn.LastHeartbeatAt) <= r.timeout {
			continue
		}
		r.reap(fn)
	}
}

func (r *Reaper) reap(fn types.FunctionMetadata) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := log.WithFunction(fn.Name)

	exists, err := r.engine.Exists(ctx, fn.Name)
	if err != nil {
		logger.Error().Err(err).Msg("failed to check container existence during reap")
		return
	}
	if exists {
		if err := r.engine.Stop(ctx, fn.Name); err != nil {
			logger.Error().Err(err).Msg("failed to stop idle container")
			return
		}
		if err := r.engine.Remove(ctx, fn.Name); err != nil {
			logger.Error().Err(err).Msg("failed to remove idle container")
			return
		}
	}

	if err := r.store.DeleteContainerOfFunction(fn.Name); err != nil {
		logger.Error().Err(err).Msg("failed to delete reaped container row")
		return
	}
	r.pns.Release(fn.HostPort)

	metrics.ReapsTotal.Inc()
	logger.Info().Int("idle_host_port", fn.HostPort).Msg("reaped idle container")
}
