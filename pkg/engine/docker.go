package engine

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/cuemby/zeta/pkg/log"
	"github.com/cuemby/zeta/pkg/types"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
)

// DockerEngine implements Engine against a container-engine daemon reachable
// over its own UNIX-socket HTTP API.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine dials the engine at socketPath (e.g.
// "/var/run/docker.sock") and pings it once before returning, failing fast
// if the daemon is unreachable.
func NewDockerEngine(ctx context.Context, socketPath string) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+socketPath),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, types.Wrap(types.KindEngineUnavailable, "create engine client", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, types.Wrap(types.KindEngineUnavailable, "ping engine daemon", err)
	}

	return &DockerEngine{cli: cli}, nil
}

func (e *DockerEngine) Close() error { return e.cli.Close() }

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return types.Wrap(types.KindNotFound, "engine object not found", err)
	}
	if client.IsErrConnectionFailed(err) || errors.Is(err, context.DeadlineExceeded) {
		return types.Wrap(types.KindEngineUnavailable, "engine unreachable", err)
	}
	return err
}

// BuildImage tars buildContextPath and streams it through ImageBuild,
// writing the daemon's JSON build log into logOutput.
func (e *DockerEngine) BuildImage(ctx context.Context, tag, buildContextPath string, logOutput io.Writer) error {
	tarCtx, err := archive.TarWithOptions(buildContextPath, &archive.TarOptions{})
	if err != nil {
		return types.Wrap(types.KindBuildFailed, "tar build context", err)
	}
	defer tarCtx.Close()

	resp, err := e.cli.ImageBuild(ctx, tarCtx, dockertypes.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return types.Wrap(types.KindBuildFailed, "image build request", translateErr(err))
	}
	defer resp.Body.Close()

	if logOutput == nil {
		logOutput = io.Discard
	}
	if _, err := io.Copy(logOutput, resp.Body); err != nil {
		return types.Wrap(types.KindBuildFailed, "read build log", err)
	}
	return nil
}

func (e *DockerEngine) ListImages(ctx context.Context) ([]Image, error) {
	images, err := e.cli.ImageList(ctx, dockerimage.ListOptions{All: true})
	if err != nil {
		return nil, types.Wrap(types.KindEngineUnavailable, "list images", translateErr(err))
	}
	out := make([]Image, 0, len(images))
	for _, img := range images {
		out = append(out, Image{ID: img.ID, Tags: img.RepoTags})
	}
	return out, nil
}

// ImagesWithPrefix returns images whose tag starts with prefix, excluding
// the base runner image.
func (e *DockerEngine) ImagesWithPrefix(ctx context.Context, prefix string) ([]Image, error) {
	all, err := e.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	var out []Image
	for _, img := range all {
		for _, tag := range img.Tags {
			if strings.Contains(tag, BaseRunnerImageSubstring) {
				continue
			}
			if strings.HasPrefix(tag, prefix) {
				out = append(out, img)
				break
			}
		}
	}
	return out, nil
}

func (e *DockerEngine) RemoveImage(ctx context.Context, id string, force bool) error {
	_, err := e.cli.ImageRemove(ctx, id, dockerimage.RemoveOptions{Force: force})
	return translateErr(err)
}

// RunContainer creates and starts a container, publishing ContainerPort to
// HostPort and bind-mounting the heartbeat socket read-only.
func (e *DockerEngine) RunContainer(ctx context.Context, opts RunOptions) (*Container, error) {
	containerPort, err := nat.NewPort("tcp", strconv.Itoa(opts.ContainerPort))
	if err != nil {
		return nil, types.Wrap(types.KindInvalidInput, "invalid container port", err)
	}

	cfg := &container.Config{
		Image:        opts.ImageID,
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
		Labels:       opts.Labels,
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{{HostIP: opts.HostIP, HostPort: strconv.Itoa(opts.HostPort)}},
		},
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   opts.SocketSource,
				Target:   opts.SocketTarget,
				ReadOnly: true,
			},
		},
	}

	netCfg := &network.NetworkingConfig{}
	if opts.Network != "" {
		netCfg.EndpointsConfig = map[string]*network.EndpointSettings{
			opts.Network: {},
		}
	}

	created, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, opts.Name)
	if err != nil {
		return nil, types.Wrap(types.KindEngineUnavailable, "create container", translateErr(err))
	}

	if err := e.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, types.Wrap(types.KindEngineUnavailable, "start container", translateErr(err))
	}

	return e.GetContainer(ctx, created.ID)
}

func (e *DockerEngine) GetContainer(ctx context.Context, nameOrID string) (*Container, error) {
	inspect, err := e.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return nil, translateErr(err)
	}

	status := StatusOther
	if inspect.State != nil {
		switch {
		case inspect.State.Running:
			status = StatusRunning
		case inspect.State.Status == "exited":
			status = StatusExited
		}
	}

	var ports []types.PortMapping
	if inspect.NetworkSettings != nil {
		for containerPort, bindings := range inspect.NetworkSettings.Ports {
			for _, b := range bindings {
				hostPort, _ := strconv.Atoi(b.HostPort)
				ports = append(ports, types.PortMapping{
					ContainerPort: containerPort.Int(),
					HostPort:      hostPort,
					Protocol:      containerPort.Proto(),
				})
			}
		}
	}

	return &Container{
		ID:      inspect.ID,
		Name:    strings.TrimPrefix(inspect.Name, "/"),
		ImageID: inspect.Image,
		Status:  status,
		Ports:   ports,
	}, nil
}

func (e *DockerEngine) ContainersOfImage(ctx context.Context, imageID string) ([]Container, error) {
	list, err := e.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, types.Wrap(types.KindEngineUnavailable, "list containers", translateErr(err))
	}
	var out []Container
	for _, c := range list {
		if c.ImageID == imageID || c.Image == imageID {
			full, err := e.GetContainer(ctx, c.ID)
			if err != nil {
				continue
			}
			out = append(out, *full)
		}
	}
	return out, nil
}

func (e *DockerEngine) IsRunning(ctx context.Context, name string) (bool, error) {
	c, err := e.GetContainer(ctx, name)
	if err != nil {
		if types.KindOf(err) == types.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return c.Status == StatusRunning, nil
}

func (e *DockerEngine) Exists(ctx context.Context, name string) (bool, error) {
	_, err := e.GetContainer(ctx, name)
	if err == nil {
		return true, nil
	}
	if types.KindOf(err) == types.KindNotFound {
		return false, nil
	}
	return false, err
}

func (e *DockerEngine) Stop(ctx context.Context, nameOrID string) error {
	timeout := 10
	return translateErr(e.cli.ContainerStop(ctx, nameOrID, container.StopOptions{Timeout: &timeout}))
}

func (e *DockerEngine) Restart(ctx context.Context, nameOrID string) error {
	timeout := 10
	return translateErr(e.cli.ContainerRestart(ctx, nameOrID, container.StopOptions{Timeout: &timeout}))
}

// Remove attempts a graceful removal first; on failure it retries forced.
func (e *DockerEngine) Remove(ctx context.Context, nameOrID string) error {
	err := e.cli.ContainerRemove(ctx, nameOrID, container.RemoveOptions{})
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return nil
	}
	elogger := log.WithComponent("engine")
	elogger.Warn().Err(err).Str("container", nameOrID).
		Msg("graceful remove failed, retrying forced")
	return translateErr(e.cli.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true}))
}

func (e *DockerEngine) CreateNetwork(ctx context.Context, name string) (string, error) {
	resp, err := e.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return "", types.Wrap(types.KindEngineUnavailable, "create network", translateErr(err))
	}
	return resp.ID, nil
}

func (e *DockerEngine) GetNetwork(ctx context.Context, name string) (string, error) {
	resp, err := e.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err != nil {
		return "", translateErr(err)
	}
	return resp.ID, nil
}

func (e *DockerEngine) NetworkExists(ctx context.Context, name string) (bool, error) {
	_, err := e.GetNetwork(ctx, name)
	if err == nil {
		return true, nil
	}
	if types.KindOf(err) == types.KindNotFound {
		return false, nil
	}
	return false, err
}

func (e *DockerEngine) RemoveNetwork(ctx context.Context, name string) error {
	return translateErr(e.cli.NetworkRemove(ctx, name))
}

