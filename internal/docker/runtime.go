package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/spherical/fulltext-extractor/internal/observability"
)

const (
	removeTimeout = 30 * time.Second
	stderrTail    = "50"
)

// RunSpec describes a single, non-interactive container run.
type RunSpec struct {
	Image  string
	Args   []string
	Binds  []string
	Name   string
	Labels map[string]string
}

// ExitError is returned when the container exits with a non-zero status.
type ExitError struct {
	StatusCode int64
	Stderr     string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("container exited with status %d", e.StatusCode)
	}
	return fmt.Sprintf("container exited with status %d: %s", e.StatusCode, e.Stderr)
}

// Runtime is one connection to the container runtime.
type Runtime struct {
	api    APIClient
	logger *observability.Logger
}

// NewRuntime wraps an API client.
func NewRuntime(api APIClient, logger *observability.Logger) *Runtime {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Runtime{api: api, logger: logger}
}

// Info queries the runtime status.
func (r *Runtime) Info(ctx context.Context) error {
	info, err := r.api.Info(ctx)
	if err != nil {
		return fmt.Errorf("query runtime info: %w", classify(err))
	}
	r.logger.Debug().
		Str("server_version", info.ServerVersion).
		Int("containers_running", info.ContainersRunning).
		Msg("Container runtime is available")
	return nil
}

// Pull pulls ref and waits for the pull to finish. Errors reported inside
// the progress stream are returned as well.
func (r *Runtime) Pull(ctx context.Context, ref, registryAuth string) error {
	rc, err := r.api.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: registryAuth})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, classify(err))
	}
	defer rc.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("pull %s: %w", ref, classify(err))
	}
	r.logger.Debug().Str("image", ref).Msg("Pulled image")
	return nil
}

// Run creates a container from spec, starts it and blocks until it exits.
// The container is removed afterwards, also when ctx is cancelled.
func (r *Runtime) Run(ctx context.Context, spec RunSpec) error {
	resp, err := r.api.ContainerCreate(ctx,
		&container.Config{
			Image:  spec.Image,
			Cmd:    spec.Args,
			Labels: spec.Labels,
		},
		&container.HostConfig{
			Binds: spec.Binds,
		},
		nil, nil, spec.Name)
	if err != nil {
		return fmt.Errorf("create container: %w", classify(err))
	}
	for _, w := range resp.Warnings {
		r.logger.Warn().Str("container", resp.ID).Msg(w)
	}
	defer r.remove(ctx, resp.ID)

	if err := r.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", spec.Name, classify(err))
	}

	statusCh, errCh := r.api.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return fmt.Errorf("wait for container %s: %w", spec.Name, classify(err))
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return fmt.Errorf("wait for container %s: %s", spec.Name, status.Error.Message)
		}
		if status.StatusCode != 0 {
			return &ExitError{
				StatusCode: status.StatusCode,
				Stderr:     r.stderr(ctx, resp.ID),
			}
		}
	}
	return nil
}

// Close releases the connection.
func (r *Runtime) Close() error {
	return r.api.Close()
}

// stderr returns the tail of the container's stderr, or "" if it cannot be read.
func (r *Runtime) stderr(ctx context.Context, id string) string {
	rc, err := r.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStderr: true, Tail: stderrTail})
	if err != nil {
		r.logger.Debug().Err(err).Str("container", id).Msg("Could not read container logs")
		return ""
	}
	defer rc.Close()

	var stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(io.Discard, &stderr, rc); err != nil {
		r.logger.Debug().Err(err).Str("container", id).Msg("Could not demultiplex container logs")
	}
	return strings.TrimSpace(stderr.String())
}

func (r *Runtime) remove(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()

	if err := r.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		r.logger.Warn().Err(err).Str("container", id).Msg("Failed to remove extractor container")
	}
}
