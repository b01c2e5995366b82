package imagebuilder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/zeta/pkg/engine"
	"github.com/cuemby/zeta/pkg/log"
	"github.com/cuemby/zeta/pkg/metrics"
	"github.com/cuemby/zeta/pkg/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// buildLogWriter streams the engine's JSON build log into the structured
// logger instead of stdout.
type buildLogWriter struct {
	logger zerolog.Logger
}

func (w buildLogWriter) Write(p []byte) (int, error) {
	w.logger.Debug().Msg(string(p))
	return len(p), nil
}

// BaseRunnerImage is the pre-built base image every per-function runner
// image is derived from. Building that base image happens in a separate
// pipeline; imagebuilder only ever builds FROM it.
const BaseRunnerImage = "zeta-python-base-runner:latest"

const dockerfileTemplate = `FROM %s
WORKDIR /zeta
COPY function.py /zeta/handler/handler.py
COPY harness.py /zeta/harness.py
EXPOSE 8000
CMD ["zeta-runner"]
`

// harnessTemplate is the supervised subprocess that loads the user handler
// and speaks one JSON object per line over stdin/stdout to cmd/zeta-runner.
// Baked into every built image alongside the handler source.
const harnessTemplate = `import importlib.util
import json
import sys

HANDLER_PATH = "handler/handler.py"


def load_handler():
    spec = importlib.util.spec_from_file_location("handler", HANDLER_PATH)
    module = importlib.util.module_from_spec(spec)
    spec.loader.exec_module(module)
    return getattr(module, "main_handler", None)


def main():
    handler = load_handler()
    for line in sys.stdin:
        line = line.strip()
        if not line:
            continue
        try:
            request = json.loads(line)
        except Exception as exc:
            print(json.dumps({"ok": False, "code": 500, "error": str(exc)}), flush=True)
            continue

        if handler is None:
            print(json.dumps({"ok": False, "code": 404, "error": "handler missing"}), flush=True)
            continue

        try:
            result = handler(request.get("params", {}))
            print(json.dumps({"ok": True, "result": result}), flush=True)
        except Exception as exc:
            print(json.dumps({"ok": False, "code": 500, "error": str(exc)}), flush=True)


if __name__ == "__main__":
    main()
`

// Builder renders a build context for a function's handler source and
// drives the engine build.
type Builder struct {
	engine engine.Engine
}

// New returns a Builder backed by eng.
func New(eng engine.Engine) *Builder {
	return &Builder{engine: eng}
}

// ImageTag returns the tag a built image for functionName gets, of the
// form "<function_name>-runner-image-<uuid>".
func ImageTag(functionName string) string {
	return fmt.Sprintf("%s-runner-image-%s", functionName, uuid.NewString())
}

// Build writes handlerSource and a generated Dockerfile into a scoped
// temporary directory, calls Engine.BuildImage, and releases the
// directory on every exit path.
func (b *Builder) Build(ctx context.Context, functionName, handlerSource string) (types.RunnerImage, error) {
	tag := ImageTag(functionName)
	logger := log.WithFunction(functionName)
	timer := metrics.NewTimer()

	image, err := b.build(ctx, functionName, handlerSource, tag, logger)
	if err != nil {
		metrics.BuildFailuresTotal.Inc()
		return types.RunnerImage{}, err
	}
	timer.ObserveDuration(metrics.BuildDuration)
	return image, nil
}

func (b *Builder) build(ctx context.Context, functionName, handlerSource, tag string, logger zerolog.Logger) (types.RunnerImage, error) {
	tmpDir, err := os.MkdirTemp("", "zeta-build-*")
	if err != nil {
		return types.RunnerImage{}, types.Wrap(types.KindBuildFailed, "create build context dir", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			logger.Warn().Err(rmErr).Str("dir", tmpDir).Msg("failed to clean up build context")
		}
	}()

	functionPath := filepath.Join(tmpDir, "function.py")
	if err := os.WriteFile(functionPath, []byte(handlerSource), 0o644); err != nil {
		return types.RunnerImage{}, types.Wrap(types.KindBuildFailed, "write handler source", err)
	}

	harnessPath := filepath.Join(tmpDir, "harness.py")
	if err := os.WriteFile(harnessPath, []byte(harnessTemplate), 0o644); err != nil {
		return types.RunnerImage{}, types.Wrap(types.KindBuildFailed, "write harness script", err)
	}

	dockerfilePath := filepath.Join(tmpDir, "Dockerfile")
	dockerfile := fmt.Sprintf(dockerfileTemplate, BaseRunnerImage)
	if err := os.WriteFile(dockerfilePath, []byte(dockerfile), 0o644); err != nil {
		return types.RunnerImage{}, types.Wrap(types.KindBuildFailed, "write dockerfile", err)
	}

	logger.Info().Str("tag", tag).Msg("building runner image")
	if err := b.engine.BuildImage(ctx, tag, tmpDir, buildLogWriter{logger}); err != nil {
		return types.RunnerImage{}, types.Wrap(types.KindBuildFailed, "build runner image", err)
	}

	images, err := b.engine.ImagesWithPrefix(ctx, tag)
	if err != nil || len(images) == 0 {
		return types.RunnerImage{}, types.NewError(types.KindBuildFailed, "built image not found after build: "+tag)
	}
	return types.RunnerImage{ID: images[0].ID, Tag: tag}, nil
}
