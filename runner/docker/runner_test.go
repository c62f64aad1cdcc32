package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/gammadia/tidymodels/dispatcher"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Docker Client ---

type mockDocker struct {
	mu sync.Mutex

	// Track calls for assertions
	configs           []*container.Config
	hostConfigs       []*container.HostConfig
	containersCreated []string
	containersStarted []string
	containersRemoved []string
	containersKilled  []string
	pulls             []string

	// Control behavior
	containerWaitCh    chan container.WaitResponse
	containerWaitErrCh chan error
	stdout             string
	stderr             string

	// Override specific behaviors
	containerCreateErr error
	containerStartErr  error
	startFailures      int
}

func newMockDocker() *mockDocker {
	return &mockDocker{
		containerWaitCh:    make(chan container.WaitResponse, 1),
		containerWaitErrCh: make(chan error, 1),
	}
}

func (m *mockDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.containerCreateErr != nil {
		return container.CreateResponse{}, m.containerCreateErr
	}
	m.configs = append(m.configs, config)
	m.hostConfigs = append(m.hostConfigs, hostConfig)
	m.containersCreated = append(m.containersCreated, containerName)
	return container.CreateResponse{ID: "ctr-" + containerName}, nil
}

func (m *mockDocker) ContainerStart(_ context.Context, containerID string, _ container.StartOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startFailures > 0 {
		m.startFailures--
		return errors.New("transient")
	}
	if m.containerStartErr != nil {
		return m.containerStartErr
	}
	m.containersStarted = append(m.containersStarted, containerID)
	return nil
}

func (m *mockDocker) ContainerWait(_ context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return m.containerWaitCh, m.containerWaitErrCh
}

func (m *mockDocker) ContainerKill(_ context.Context, containerID string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containersKilled = append(m.containersKilled, containerID)
	return nil
}

func (m *mockDocker) ContainerRemove(_ context.Context, containerID string, _ container.RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containersRemoved = append(m.containersRemoved, containerID)
	return nil
}

func (m *mockDocker) ContainerLogs(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(m.stdout))
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(m.stderr))
	return io.NopCloser(&buf), nil
}

func (m *mockDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulls = append(m.pulls, ref)
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded"}`)), nil
}

func newTask() *dispatcher.Task {
	return &dispatcher.Task{
		Name: "model-1-2-0",
		Slot: "3",
		Args: dispatcher.Args{"name": "model-1-2-0", "hyp_lr": 0.01},
	}
}

func TestRunContainerOnSlotDevice(t *testing.T) {
	docker := newMockDocker()
	docker.containerWaitCh <- container.WaitResponse{StatusCode: 0}

	runner, err := New(docker, Config{
		Image:   "ghcr.io/acme/train:latest",
		Command: []string{"python", "fit.py", "--lr", "{{ .hyp_lr }}"},
		Env:     map[string]string{"WANDB_MODE": "offline"},
	})
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), newTask()))

	require.Len(t, docker.configs, 1)
	config := docker.configs[0]
	assert.Equal(t, "ghcr.io/acme/train:latest", config.Image)
	assert.Equal(t, []string{"python", "fit.py", "--lr", "0.01"}, []string(config.Cmd))
	// The slot's GPU is the container's device 0.
	assert.Equal(t, []string{"CUDA_VISIBLE_DEVICES=0", "TIDY_TASK=model-1-2-0", "WANDB_MODE=offline"}, config.Env)

	requests := docker.hostConfigs[0].Resources.DeviceRequests
	require.Len(t, requests, 1)
	assert.Equal(t, "nvidia", requests[0].Driver)
	assert.Equal(t, []string{"3"}, requests[0].DeviceIDs)
	assert.Equal(t, [][]string{{"gpu"}}, requests[0].Capabilities)

	assert.Equal(t, []string{"tidy-model-1-2-0"}, docker.containersCreated)
	assert.Equal(t, []string{"ctr-tidy-model-1-2-0"}, docker.containersStarted)
	assert.Equal(t, []string{"ctr-tidy-model-1-2-0"}, docker.containersRemoved)
}

func TestRunContainerDefaultCommand(t *testing.T) {
	docker := newMockDocker()
	docker.containerWaitCh <- container.WaitResponse{StatusCode: 0}

	runner, err := New(docker, Config{Image: "train"})
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), newTask()))

	assert.Empty(t, docker.configs[0].Cmd)
}

func TestRunContainerExitStatus(t *testing.T) {
	docker := newMockDocker()
	docker.containerWaitCh <- container.WaitResponse{StatusCode: 137}

	runner, err := New(docker, Config{Image: "train"})
	require.NoError(t, err)

	err = runner.Run(context.Background(), newTask())
	assert.EqualError(t, err, "container exited with status 137")
	assert.Len(t, docker.containersRemoved, 1, "container must be removed even on failure")
}

func TestRunContainerWaitError(t *testing.T) {
	docker := newMockDocker()
	docker.containerWaitErrCh <- errors.New("daemon gone")

	runner, err := New(docker, Config{Image: "train"})
	require.NoError(t, err)

	err = runner.Run(context.Background(), newTask())
	assert.EqualError(t, err, "failed to wait for docker container: daemon gone")
}

func TestRunContainerRetriesStart(t *testing.T) {
	docker := newMockDocker()
	docker.startFailures = 2
	docker.containerWaitCh <- container.WaitResponse{StatusCode: 0}

	runner, err := New(docker, Config{Image: "train"})
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), newTask()))
	assert.Len(t, docker.containersStarted, 1)
}

func TestRunContainerCreateFailure(t *testing.T) {
	docker := newMockDocker()
	docker.containerCreateErr = errors.New("no such image")

	runner, err := New(docker, Config{Image: "train"})
	require.NoError(t, err)

	err = runner.Run(context.Background(), newTask())
	assert.EqualError(t, err, "failed to create docker container: no such image")
	assert.Empty(t, docker.containersRemoved)
}

func TestRunContainerAborted(t *testing.T) {
	docker := newMockDocker()

	runner, err := New(docker, Config{Image: "train"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = runner.Run(ctx, newTask())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"ctr-tidy-model-1-2-0"}, docker.containersKilled)
	assert.Len(t, docker.containersRemoved, 1)
}

func TestRunContainerSavesLogs(t *testing.T) {
	docker := newMockDocker()
	docker.stdout = "epoch 1 loss 0.3\n"
	docker.stderr = "warning\n"
	docker.containerWaitCh <- container.WaitResponse{StatusCode: 0}

	logDir := t.TempDir()
	runner, err := New(docker, Config{Image: "train", LogDir: logDir})
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), newTask()))

	buf, err := os.ReadFile(filepath.Join(logDir, "model-1-2-0.log"))
	require.NoError(t, err)
	assert.Equal(t, "epoch 1 loss 0.3\nwarning\n", string(buf))
}

func TestPrepare(t *testing.T) {
	docker := newMockDocker()

	runner, err := New(docker, Config{Image: "train", Pull: true})
	require.NoError(t, err)
	require.NoError(t, runner.Prepare(context.Background()))
	require.NoError(t, runner.Prepare(context.Background()))
	assert.Equal(t, []string{"train"}, docker.pulls)

	runner, err = New(docker, Config{Image: "other"})
	require.NoError(t, err)
	require.NoError(t, runner.Prepare(context.Background()))
	assert.Len(t, docker.pulls, 1)
}

func TestNewValidation(t *testing.T) {
	_, err := New(newMockDocker(), Config{})
	assert.EqualError(t, err, "image is required")

	_, err = New(newMockDocker(), Config{Image: "train", Command: []string{"{{ .x"}})
	assert.ErrorContains(t, err, "failed to parse argument 0")
}
