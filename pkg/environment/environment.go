package environment

import (
	"context"

	"github.com/cuemby/zeta/pkg/engine"
	"github.com/cuemby/zeta/pkg/log"
)

// DefaultNetworkName is the fixed name of the process-wide bridge network
// every runner container is attached to.
const DefaultNetworkName = "zeta-net"

// Manager owns the lifecycle of the shared network.
type Manager struct {
	engine engine.Engine
	name   string
}

// New returns a Manager for the named network (DefaultNetworkName if empty).
func New(eng engine.Engine, name string) *Manager {
	if name == "" {
		name = DefaultNetworkName
	}
	return &Manager{engine: eng, name: name}
}

// Ensure makes sure the network exists, creating it if it does not already
// exist.
// Failures here are fatal to startup.
func (m *Manager) Ensure(ctx context.Context) error {
	exists, err := m.engine.NetworkExists(ctx, m.name)
	if err != nil {
		return err
	}
	envLogger := log.WithComponent("environment")
	if exists {
		envLogger.Info().Str("network", m.name).Msg("network already exists")
		return nil
	}
	if _, err := m.engine.CreateNetwork(ctx, m.name); err != nil {
		return err
	}
	envLogger.Info().Str("network", m.name).Msg("created shared network")
	return nil
}

// Name returns the shared network's name.
func (m *Manager) Name() string { return m.name }

// Teardown removes the shared network. Failures are logged, not returned.
func (m *Manager) Teardown(ctx context.Context) {
	if err := m.engine.RemoveNetwork(ctx, m.name); err != nil {
		envLogger := log.WithComponent("environment")
		envLogger.Warn().Err(err).Str("network", m.name).Msg("failed to remove network")
	}
}
