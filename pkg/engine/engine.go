package engine

import (
	"context"
	"io"

	"github.com/cuemby/zeta/pkg/types"
)

// Image is the engine's view of a built image.
type Image struct {
	ID   string
	Tags []string
}

// ContainerStatus classifies the running state of a container as reported
// by the engine.
type ContainerStatus string

const (
	StatusRunning ContainerStatus = "running"
	StatusExited  ContainerStatus = "exited"
	StatusOther   ContainerStatus = "other"
)

// Container is the engine's view of a container instance.
type Container struct {
	ID      string
	Name    string
	ImageID string
	Status  ContainerStatus
	Ports   []types.PortMapping
}

// RunOptions configures a new container. ContainerPort is always published
// to HostPort on HostIP; the control-plane heartbeat socket at SocketSource
// is bind-mounted read-only into the container at SocketTarget.
type RunOptions struct {
	Name          string
	ImageID       string
	Network       string
	ContainerPort int
	HostPort      int
	HostIP        string
	SocketSource  string // host path to the heartbeat UNIX socket
	SocketTarget  string // path inside the container
	Labels        map[string]string
}

// Engine is the narrow contract over the container engine. Implementations
// must translate underlying failures into *types.Error with
// KindEngineUnavailable or KindNotFound.
type Engine interface {
	// Images
	BuildImage(ctx context.Context, tag, buildContextPath string, logOutput io.Writer) error
	ListImages(ctx context.Context) ([]Image, error)
	ImagesWithPrefix(ctx context.Context, prefix string) ([]Image, error)
	RemoveImage(ctx context.Context, id string, force bool) error

	// Containers
	RunContainer(ctx context.Context, opts RunOptions) (*Container, error)
	GetContainer(ctx context.Context, nameOrID string) (*Container, error)
	ContainersOfImage(ctx context.Context, imageID string) ([]Container, error)
	IsRunning(ctx context.Context, name string) (bool, error)
	Exists(ctx context.Context, name string) (bool, error)
	Stop(ctx context.Context, nameOrID string) error
	Restart(ctx context.Context, nameOrID string) error
	Remove(ctx context.Context, nameOrID string) error

	// Networks
	CreateNetwork(ctx context.Context, name string) (string, error)
	GetNetwork(ctx context.Context, name string) (string, error)
	NetworkExists(ctx context.Context, name string) (bool, error)
	RemoveNetwork(ctx context.Context, name string) error

	Close() error
}

// BaseRunnerImageSubstring identifies the base runner image so
// ImagesWithPrefix can exclude it from per-function prefix filtering.
const BaseRunnerImageSubstring = "zeta-python-base-runner"
