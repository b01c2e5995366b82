package imagebuilder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/zeta/pkg/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine records the build context handed to BuildImage and reports a
// single matching image back from ImagesWithPrefix, the way the real Docker
// adapter does once a build succeeds.
type fakeEngine struct {
	builtContextPath string
	buildErr         error
	noImageAfterBuild bool
}

func (e *fakeEngine) BuildImage(ctx context.Context, tag, buildContextPath string, logOutput io.Writer) error {
	e.builtContextPath = buildContextPath
	_, _ = logOutput.Write([]byte(`{"stream":"step 1/4"}`))
	return e.buildErr
}

func (e *fakeEngine) ListImages(ctx context.Context) ([]engine.Image, error) { return nil, nil }

func (e *fakeEngine) ImagesWithPrefix(ctx context.Context, prefix string) ([]engine.Image, error) {
	if e.noImageAfterBuild {
		return nil, nil
	}
	return []engine.Image{{ID: "img-1", Tags: []string{prefix}}}, nil
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
func (e *fakeEngine) IsRunning(ctx context.Context, name string) (bool, error)     { return false, nil }
func (e *fakeEngine) Exists(ctx context.Context, name string) (bool, error)       { return false, nil }
func (e *fakeEngine) Stop(ctx context.Context, nameOrID string) error             { return nil }
func (e *fakeEngine) Restart(ctx context.Context, nameOrID string) error          { return nil }
func (e *fakeEngine) Remove(ctx context.Context, nameOrID string) error           { return nil }
func (e *fakeEngine) CreateNetwork(ctx context.Context, name string) (string, error) { return "", nil }
func (e *fakeEngine) GetNetwork(ctx context.Context, name string) (string, error)    { return "", nil }
func (e *fakeEngine) NetworkExists(ctx context.Context, name string) (bool, error)   { return true, nil }
func (e *fakeEngine) RemoveNetwork(ctx context.Context, name string) error           { return nil }
func (e *fakeEngine) Close() error                                                  { return nil }

func TestBuildReturnsImageAndCleansUpContext(t *testing.T) {
	eng := &fakeEngine{}
	b := New(eng)

	img, err := b.Build(context.Background(), "echo", "def main_handler(event): return event")
	require.NoError(t, err)
	assert.Equal(t, "img-1", img.ID)
	assert.True(t, strings.HasPrefix(img.Tag, "echo-runner-image-"))

	// The build context directory must already be removed by the time
	// Build returns; it is scoped to the single build call.
	_, statErr := os.Stat(eng.builtContextPath)
	assert.True(t, os.IsNotExist(statErr), "the build context directory must be cleaned up after Build returns")
}

func TestBuildContextContainsExpectedFiles(t *testing.T) {
	eng := &fakeEngine{}
	// Capture the context directory's contents before Build's cleanup runs
	// by asserting inside a BuildImage override.
	var functionPy, harnessPy, dockerfile []byte
	eng2 := &inspectingEngine{fakeEngine: eng, onBuild: func(dir string) {
		functionPy, _ = os.ReadFile(filepath.Join(dir, "function.py"))
		harnessPy, _ = os.ReadFile(filepath.Join(dir, "harness.py"))
		dockerfile, _ = os.ReadFile(filepath.Join(dir, "Dockerfile"))
	}}
	b := New(eng2)

	_, err := b.Build(context.Background(), "echo", "def main_handler(event): return event")
	require.NoError(t, err)

	assert.Contains(t, string(functionPy), "main_handler")
	assert.Contains(t, string(harnessPy), "def main()")
	assert.Contains(t, string(dockerfile), "FROM "+BaseRunnerImage)
	assert.Contains(t, string(dockerfile), "CMD [\"zeta-runner\"]")
}

// inspectingEngine wraps fakeEngine to observe the build context directory
// before Build's deferred cleanup removes it.
type inspectingEngine struct {
	*fakeEngine
	onBuild func(dir string)
}

func (e *inspectingEngine) BuildImage(ctx context.Context, tag, buildContextPath string, logOutput io.Writer) error {
	e.onBuild(buildContextPath)
	return e.fakeEngine.BuildImage(ctx, tag, buildContextPath, logOutput)
}

func TestBuildPropagatesEngineFailure(t *testing.T) {
	eng := &fakeEngine{buildErr: assertBuildErr{}}
	b := New(eng)

	_, err := b.Build(context.Background(), "echo", "source")
	assert.Error(t, err)
}

func TestBuildFailsWhenImageNotFoundAfterBuild(t *testing.T) {
	eng := &fakeEngine{noImageAfterBuild: true}
	b := New(eng)

	_, err := b.Build(context.Background(), "echo", "source")
	assert.Error(t, err)
}

func TestImageTagIncludesFunctionNameAndIsUnique(t *testing.T) {
	a := ImageTag("echo")
	b := ImageTag("echo")
	assert.True(t, strings.HasPrefix(a, "echo-runner-image-"))
	assert.NotEqual(t, a, b, "two calls must not collide on the same tag")
}

type assertBuildErr struct{}

func (assertBuildErr) Error() string { return "forced build failure" }
