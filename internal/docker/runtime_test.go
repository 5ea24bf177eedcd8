package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) Info(ctx context.Context) (system.Info, error) {
	args := m.Called(ctx)
	return args.Get(0).(system.Info), args.Error(1)
}

func (m *mockAPI) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, refStr, options)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	args := m.Called(ctx, config, hostConfig, networkingConfig, platform, containerName)
	return args.Get(0).(container.CreateResponse), args.Error(1)
}

func (m *mockAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return m.Called(ctx, containerID, options).Error(0)
}

func (m *mockAPI) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	args := m.Called(ctx, containerID, condition)
	return args.Get(0).(<-chan container.WaitResponse), args.Get(1).(<-chan error)
}

func (m *mockAPI) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, containerID, options)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	return m.Called(ctx, containerID, options).Error(0)
}

func (m *mockAPI) Close() error {
	return m.Called().Error(0)
}

func waitResult(code int64) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: code}
	return statusCh, make(chan error)
}

func waitFailure(err error) (<-chan container.WaitResponse, <-chan error) {
	errCh := make(chan error, 1)
	errCh <- err
	return make(chan container.WaitResponse), errCh
}

func testSpec() RunSpec {
	return RunSpec{
		Image: "arxiv/fulltext-extractor:0.3",
		Args:  []string{"/pdfs/a/b.pdf"},
		Binds: []string{"/mnt/pdfs:/pdfs:rw"},
		Name:  "fulltext-test",
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unreachable bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: errors.New("no such image")},
		{name: "net op error", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, unreachable: true},
		{name: "already classified", err: ErrUnreachable, unreachable: true},
		{name: "context canceled", err: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.unreachable, IsUnreachable(got))
			if tt.err != nil {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}
}

func TestRuntime_Info(t *testing.T) {
	api := new(mockAPI)
	api.On("Info", mock.Anything).Return(system.Info{ServerVersion: "27.1.1"}, nil).Once()
	api.On("Info", mock.Anything).Return(system.Info{}, &net.OpError{Op: "dial", Err: errors.New("refused")}).Once()

	rt := NewRuntime(api, nil)
	assert.NoError(t, rt.Info(context.Background()))

	err := rt.Info(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
	api.AssertExpectations(t)
}

func TestRuntime_Pull(t *testing.T) {
	const ref = "arxiv/fulltext-extractor:0.3"

	t.Run("drains progress stream", func(t *testing.T) {
		api := new(mockAPI)
		stream := `{"status":"Pulling from arxiv/fulltext-extractor","id":"0.3"}
{"status":"Digest: sha256:abc"}
{"status":"Status: Image is up to date for arxiv/fulltext-extractor:0.3"}
`
		api.On("ImagePull", mock.Anything, ref, image.PullOptions{RegistryAuth: "token"}).
			Return(io.NopCloser(strings.NewReader(stream)), nil)

		require.NoError(t, NewRuntime(api, nil).Pull(context.Background(), ref, "token"))
		api.AssertExpectations(t)
	})

	t.Run("request error", func(t *testing.T) {
		api := new(mockAPI)
		api.On("ImagePull", mock.Anything, ref, mock.Anything).Return(nil, errors.New("pull access denied"))

		err := NewRuntime(api, nil).Pull(context.Background(), ref, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pull access denied")
		assert.False(t, IsUnreachable(err))
	})

	t.Run("error inside stream", func(t *testing.T) {
		api := new(mockAPI)
		stream := `{"status":"Pulling from arxiv/fulltext-extractor"}
{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}
`
		api.On("ImagePull", mock.Anything, ref, mock.Anything).
			Return(io.NopCloser(strings.NewReader(stream)), nil)

		err := NewRuntime(api, nil).Pull(context.Background(), ref, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "manifest unknown")
	})
}

func TestRuntime_Run_Success(t *testing.T) {
	api := new(mockAPI)
	spec := testSpec()

	api.On("ContainerCreate", mock.Anything,
		mock.MatchedBy(func(c *container.Config) bool {
			return c.Image == spec.Image && len(c.Cmd) == 1 && c.Cmd[0] == "/pdfs/a/b.pdf" && !c.Tty && !c.OpenStdin
		}),
		mock.MatchedBy(func(h *container.HostConfig) bool {
			return len(h.Binds) == 1 && h.Binds[0] == "/mnt/pdfs:/pdfs:rw"
		}),
		(*network.NetworkingConfig)(nil), (*ocispec.Platform)(nil), "fulltext-test",
	).Return(container.CreateResponse{ID: "c1"}, nil)
	api.On("ContainerStart", mock.Anything, "c1", container.StartOptions{}).Return(nil)
	statusCh, errCh := waitResult(0)
	api.On("ContainerWait", mock.Anything, "c1", container.WaitConditionNotRunning).Return(statusCh, errCh)
	api.On("ContainerRemove", mock.Anything, "c1", container.RemoveOptions{Force: true}).Return(nil)

	require.NoError(t, NewRuntime(api, nil).Run(context.Background(), spec))
	api.AssertExpectations(t)
	api.AssertNotCalled(t, "ContainerLogs", mock.Anything, mock.Anything, mock.Anything)
}

func TestRuntime_Run_NonZeroExit(t *testing.T) {
	api := new(mockAPI)

	var logs bytes.Buffer
	_, err := stdcopy.NewStdWriter(&logs, stdcopy.Stderr).Write([]byte("cannot open /pdfs/a/b.pdf\n"))
	require.NoError(t, err)

	api.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(container.CreateResponse{ID: "c1"}, nil)
	api.On("ContainerStart", mock.Anything, "c1", mock.Anything).Return(nil)
	statusCh, errCh := waitResult(2)
	api.On("ContainerWait", mock.Anything, "c1", mock.Anything).Return(statusCh, errCh)
	api.On("ContainerLogs", mock.Anything, "c1", mock.MatchedBy(func(o container.LogsOptions) bool {
		return o.ShowStderr && !o.ShowStdout
	})).Return(io.NopCloser(&logs), nil)
	api.On("ContainerRemove", mock.Anything, "c1", mock.Anything).Return(nil)

	err = NewRuntime(api, nil).Run(context.Background(), testSpec())
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, int64(2), exitErr.StatusCode)
	assert.Equal(t, "cannot open /pdfs/a/b.pdf", exitErr.Stderr)
	api.AssertExpectations(t)
}

func TestRuntime_Run_StartFailureRemovesContainer(t *testing.T) {
	api := new(mockAPI)
	api.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(container.CreateResponse{ID: "c1"}, nil)
	api.On("ContainerStart", mock.Anything, "c1", mock.Anything).Return(errors.New("exec format error"))
	api.On("ContainerRemove", mock.Anything, "c1", mock.Anything).Return(errors.New("already gone"))

	err := NewRuntime(api, nil).Run(context.Background(), testSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec format error")
	api.AssertExpectations(t)
}

func TestRuntime_Run_CreateUnreachable(t *testing.T) {
	api := new(mockAPI)
	api.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(container.CreateResponse{}, &net.OpError{Op: "dial", Err: errors.New("refused")})

	err := NewRuntime(api, nil).Run(context.Background(), testSpec())
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
	api.AssertNotCalled(t, "ContainerRemove", mock.Anything, mock.Anything, mock.Anything)
}

func TestRuntime_Run_CancelledWhileWaiting(t *testing.T) {
	api := new(mockAPI)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	api.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(container.CreateResponse{ID: "c1"}, nil)
	api.On("ContainerStart", mock.Anything, "c1", mock.Anything).Return(nil)
	statusCh, errCh := waitFailure(context.Canceled)
	api.On("ContainerWait", mock.Anything, "c1", mock.Anything).Return(statusCh, errCh)
	api.On("ContainerRemove", mock.MatchedBy(func(c context.Context) bool {
		return c.Err() == nil
	}), "c1", container.RemoveOptions{Force: true}).Return(nil)

	err := NewRuntime(api, nil).Run(ctx, testSpec())
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsUnreachable(err))
	api.AssertExpectations(t)
}

func TestConnector_Connect(t *testing.T) {
	api := new(mockAPI)
	api.On("Close").Return(nil)

	var gotOpts int
	c := NewConnector("tcp://dind:2375", nil)
	c.dial = func(opts ...client.Opt) (APIClient, error) {
		gotOpts = len(opts)
		return api, nil
	}

	rt, err := c.Connect()
	require.NoError(t, err)
	assert.Equal(t, 3, gotOpts, "env, version negotiation and host")
	require.NoError(t, rt.Close())
	api.AssertExpectations(t)
}

func TestConnector_ConnectFailure(t *testing.T) {
	c := NewConnector("", nil)
	c.dial = func(opts ...client.Opt) (APIClient, error) {
		return nil, errors.New("unable to parse docker host")
	}

	_, err := c.Connect()
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

func TestConnector_RealClientWithBadHost(t *testing.T) {
	_, err := NewConnector("not a url", nil).Connect()
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

func TestEncodeRegistryAuth(t *testing.T) {
	auth, err := EncodeRegistryAuth("", "", "")
	require.NoError(t, err)
	assert.Empty(t, auth)

	auth, err = EncodeRegistryAuth("bot", "secret", "registry.local")
	require.NoError(t, err)
	assert.NotEmpty(t, auth)
	assert.NotContains(t, auth, "secret")
}
