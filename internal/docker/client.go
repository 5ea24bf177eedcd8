// Package docker runs the extractor image through the Docker Engine API.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/spherical/fulltext-extractor/internal/observability"
)

// APIClient is the part of the Docker Engine API the extractor needs.
// *client.Client satisfies it.
type APIClient interface {
	Info(ctx context.Context) (system.Info, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// ErrUnreachable marks errors caused by failing to reach the container runtime.
var ErrUnreachable = errors.New("container runtime unreachable")

// IsUnreachable reports whether err was caused by a connectivity failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// classify tags connectivity failures with ErrUnreachable and leaves
// everything else untouched.
func classify(err error) error {
	if err == nil || IsUnreachable(err) {
		return err
	}
	var opErr *net.OpError
	if client.IsErrConnectionFailed(err) || errdefs.IsUnavailable(err) || errors.As(err, &opErr) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return err
}

// Connector builds runtime connections. It holds no connection itself;
// every Connect call returns a fresh one owned by the caller.
type Connector struct {
	host   string
	logger *observability.Logger
	dial   func(opts ...client.Opt) (APIClient, error)
}

// NewConnector creates a connector for the given endpoint. An empty host
// falls back to the standard DOCKER_HOST/DOCKER_TLS_VERIFY/DOCKER_CERT_PATH
// environment.
func NewConnector(host string, logger *observability.Logger) *Connector {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Connector{
		host:   host,
		logger: logger.WithComponent("docker"),
		dial: func(opts ...client.Opt) (APIClient, error) {
			return client.NewClientWithOpts(opts...)
		},
	}
}

// Connect opens a new runtime connection. The caller must Close it.
func (c *Connector) Connect() (*Runtime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if c.host != "" {
		opts = append(opts, client.WithHost(c.host))
	}

	api, err := c.dial(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create docker client: %w", ErrUnreachable, err)
	}
	return NewRuntime(api, c.logger), nil
}

// EncodeRegistryAuth encodes credentials for the X-Registry-Auth header.
// It returns an empty string when no credentials are given.
func EncodeRegistryAuth(username, password, serverAddress string) (string, error) {
	if username == "" && password == "" {
		return "", nil
	}
	return registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      username,
		Password:      password,
		ServerAddress: serverAddress,
	})
}
