package environment

import (
	"context"
	"io"
	"testing"

	"github.com/cuemby/zeta/pkg/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	existing       map[string]bool
	createCalls    int
	removeCalls    int
	networkExistsErr error
	createNetworkErr error
	removeNetworkErr error
}

func newFakeEngine() *fakeEngine { return &fakeEngine{existing: make(map[string]bool)} }

func (e *fakeEngine) BuildImage(ctx context.Context, tag, buildContextPath string, logOutput io.Writer) error {
	return nil
}
func (e *fakeEngine) ListImages(ctx context.Context) ([]engine.Image, error) { return nil, nil }
func (e *fakeEngine) ImagesWithPrefix(ctx context.Context, prefix string) ([]engine.Image, error) {
	return nil, nil
}
func (e *fakeEngine) RemoveImage(ctx context.Context, id string, force bool) error { return nil }
func (e *fakeEngine) RunContainer(ctx context.Context, opts engine.RunOptions) (*engine.Container, error) {
	return nil, nil
}
func (e *fakeEngine) GetContainer(ctx context.Context, nameOrID string) (*engine.Container, error) {
	return nil, nil
}
func (e *fakeEngine) ContainersOfImage(ctx context.Context, imageID string) ([]engine.Container, error) {
	return nil, nil
}
func (e *fakeEngine) IsRunning(ctx context.Context, name string) (bool, error) { return false, nil }
func (e *fakeEngine) Exists(ctx context.Context, name string) (bool, error)   { return false, nil }
func (e *fakeEngine) Stop(ctx context.Context, nameOrID string) error         { return nil }
func (e *fakeEngine) Restart(ctx context.Context, nameOrID string) error      { return nil }
func (e *fakeEngine) Remove(ctx context.Context, nameOrID string) error       { return nil }

func (e *fakeEngine) CreateNetwork(ctx context.Context, name string) (string, error) {
	if e.createNetworkErr != nil {
		return "", e.createNetworkErr
	}
	e.createCalls++
	e.existing[name] = true
	return "net-" + name, nil
}
func (e *fakeEngine) GetNetwork(ctx context.Context, name string) (string, error) {
	return "net-" + name, nil
}
func (e *fakeEngine) NetworkExists(ctx context.Context, name string) (bool, error) {
	if e.networkExistsErr != nil {
		return false, e.networkExistsErr
	}
	return e.existing[name], nil
}
func (e *fakeEngine) RemoveNetwork(ctx context.Context, name string) error {
	if e.removeNetworkErr != nil {
		return e.removeNetworkErr
	}
	e.removeCalls++
	delete(e.existing, name)
	return nil
}
func (e *fakeEngine) Close() error { return nil }

func TestNewDefaultsNetworkName(t *testing.T) {
	m := New(newFakeEngine(), "")
	assert.Equal(t, DefaultNetworkName, m.Name())
}

func TestNewHonorsExplicitNetworkName(t *testing.T) {
	m := New(newFakeEngine(), "custom-net")
	assert.Equal(t, "custom-net", m.Name())
}

func TestEnsureCreatesNetworkWhenMissing(t *testing.T) {
	eng := newFakeEngine()
	m := New(eng, "zeta-net")

	require.NoError(t, m.Ensure(context.Background()))
	assert.Equal(t, 1, eng.createCalls)
}

func TestEnsureIsIdempotentWhenNetworkAlreadyExists(t *testing.T) {
	eng := newFakeEngine()
	eng.existing["zeta-net"] = true
	m := New(eng, "zeta-net")

	require.NoError(t, m.Ensure(context.Background()))
	assert.Equal(t, 0, eng.createCalls, "Ensure must not recreate an existing network")
}

func TestEnsurePropagatesCreateFailure(t *testing.T) {
	eng := newFakeEngine()
	eng.createNetworkErr = assertEnvErr{}
	m := New(eng, "zeta-net")

	assert.Error(t, m.Ensure(context.Background()))
}

func TestTeardownSwallowsErrors(t *testing.T) {
	eng := newFakeEngine()
	eng.existing["zeta-net"] = true
	eng.removeNetworkErr = assertEnvErr{}
	m := New(eng, "zeta-net")

	assert.NotPanics(t, func() { m.Teardown(context.Background()) })
}

func TestTeardownRemovesNetwork(t *testing.T) {
	eng := newFakeEngine()
	eng.existing["zeta-net"] = true
	m := New(eng, "zeta-net")

	m.Teardown(context.Background())
	assert.Equal(t, 1, eng.removeCalls)
}

type assertEnvErr struct{}

func (assertEnvErr) Error() string { return "forced network failure" }
