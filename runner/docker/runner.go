// Package docker runs each task in its own container, with the GPU of its
// slot exposed through an NVIDIA device request.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/gammadia/tidymodels/dispatcher"
	"github.com/gammadia/tidymodels/runner/internal"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1" // for DockerClient interface
	"github.com/samber/lo"
)

// DockerClient abstracts the Docker SDK methods used by Runner,
// enabling mock-based testing without a real Docker daemon.
type DockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID string, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

const DefaultDriver = "nvidia"

// containerDevice is the index CUDA gives the only device a container is granted.
const containerDevice = "0"

type Config struct {
	Image string
	// Command line, each argument being a template over the task arguments.
	// The image's default command runs when empty.
	Command []string
	Env     map[string]string
	// Directory receiving one <task>.log file per task, output is discarded if empty
	LogDir string
	// Pull the image once before the first task
	Pull bool
	// Device request driver, "nvidia" if empty
	Driver string
	Logger *slog.Logger
}

type Runner struct {
	docker  DockerClient
	config  Config
	command *internal.Command
	log     *slog.Logger
	pulled  bool
}

// NewClient connects to the Docker daemon configured in the environment.
func NewClient(ctx context.Context) (*client.Client, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to init docker client: %w", err)
	}
	if _, err = docker.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach docker daemon: %w", err)
	}
	return docker, nil
}

func New(docker DockerClient, config Config) (*Runner, error) {
	if config.Image == "" {
		return nil, fmt.Errorf("image is required")
	}

	runner := &Runner{
		docker: docker,
		config: config,
		log:    lo.Ternary(config.Logger != nil, config.Logger, slog.New(slog.DiscardHandler)),
	}
	runner.config.Driver = lo.Ternary(config.Driver != "", config.Driver, DefaultDriver)

	if len(config.Command) > 0 {
		command, err := internal.ParseCommand(config.Command)
		if err != nil {
			return nil, err
		}
		runner.command = command
	}
	return runner, nil
}

// Prepare pulls the image if requested. It must be called before tasks are dispatched.
func (r *Runner) Prepare(ctx context.Context) error {
	if !r.config.Pull || r.pulled {
		return nil
	}

	r.log.Info("Pulling image", "image", r.config.Image)
	reader, err := internal.RetryResult(ctx, 3, func() (io.ReadCloser, error) {
		return r.docker.ImagePull(ctx, r.config.Image, image.PullOptions{})
	})
	if err != nil {
		return fmt.Errorf("failed to pull image '%s': %w", r.config.Image, err)
	}
	defer reader.Close()

	// The pull only completes once its progress stream is drained
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image '%s': %w", r.config.Image, err)
	}
	r.pulled = true
	return nil
}

// Run executes one task in a fresh container. It has the signature of dispatcher.Work.
func (r *Runner) Run(ctx context.Context, task *dispatcher.Task) error {
	log := lo.Ternary(task.Log != nil, task.Log, r.log)

	// tryTo is a best-effort cleanup helper: logs errors but doesn't fail the task.
	tryTo := func(what string, thunk func() error) {
		if err := thunk(); err != nil {
			log.Error("Failed to "+what, "error", err)
		}
	}

	var cmd []string
	if r.command != nil {
		argv, err := r.command.Render(task)
		if err != nil {
			return err
		}
		cmd = argv
		log.Debug("Creating container", "image", r.config.Image, "command", shellescape.QuoteCommand(argv))
	}

	resp, err := internal.RetryResult(ctx, 3, func() (container.CreateResponse, error) {
		return r.docker.ContainerCreate(
			ctx,
			&container.Config{
				Image: r.config.Image,
				Cmd:   cmd,
				Env:   containerEnv(r.config.Env, task),
				Labels: map[string]string{
					"tidy.task": task.Name,
					"tidy.slot": string(task.Slot),
				},
			},
			&container.HostConfig{
				AutoRemove: false, // Otherwise this will remove the container before we can get the logs
				Resources: container.Resources{
					DeviceRequests: []container.DeviceRequest{
						{
							Driver:       r.config.Driver,
							DeviceIDs:    []string{string(task.Slot)},
							Capabilities: [][]string{{"gpu"}},
						},
					},
				},
			},
			nil,
			nil,
			fmt.Sprintf("tidy-%s", internal.SafeName(task.FQN())),
		)
	})
	if err != nil {
		return fmt.Errorf("failed to create docker container: %w", err)
	}
	// Uses context.Background() so cleanup isn't skipped if ctx is already cancelled
	defer tryTo("remove container", func() error {
		return internal.Retry(context.Background(), 3, func() error {
			return r.docker.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{RemoveVolumes: true, Force: true})
		})
	})

	// Register the wait before starting so the exit event cannot be missed
	wait, errChan := r.docker.ContainerWait(ctx, resp.ID, container.WaitConditionNextExit)
	if err := internal.Retry(ctx, 3, func() error {
		return r.docker.ContainerStart(ctx, resp.ID, container.StartOptions{})
	}); err != nil {
		return fmt.Errorf("failed to start docker container: %w", err)
	}

	var status container.WaitResponse
	select {
	case status = <-wait:
	case err := <-errChan:
		// The wait is bound to ctx, so cancellation may surface here first
		if ctx.Err() == nil {
			return fmt.Errorf("failed to wait for docker container: %w", err)
		}
		return r.kill(log, resp.ID, ctx.Err())
	case <-ctx.Done():
		return r.kill(log, resp.ID, ctx.Err())
	}

	if r.config.LogDir != "" {
		tryTo("save container logs", func() error {
			return r.saveLogs(ctx, resp.ID, task)
		})
	}

	if status.Error != nil {
		return fmt.Errorf("container failed: %s", status.Error.Message)
	}
	if status.StatusCode != 0 {
		return fmt.Errorf("container exited with status %d", status.StatusCode)
	}
	return nil
}

// containerEnv is the task environment as seen from inside the container,
// where the device request renumbers the slot's GPU as device 0.
func containerEnv(base map[string]string, task *dispatcher.Task) []string {
	return lo.Map(internal.Env(base, task), func(kv string, _ int) string {
		if strings.HasPrefix(kv, dispatcher.VisibleDevicesEnv+"=") {
			return dispatcher.VisibleDevicesEnv + "=" + containerDevice
		}
		return kv
	})
}

// kill stops the container of an aborted task, which cancellation does not do by itself.
func (r *Runner) kill(log *slog.Logger, containerID string, cause error) error {
	log.Info("Killing container of aborted task")
	if err := r.docker.ContainerKill(context.Background(), containerID, "SIGKILL"); err != nil {
		log.Error("Failed to kill container", "error", err)
	}
	return fmt.Errorf("container aborted: %w", cause)
}

func (r *Runner) saveLogs(ctx context.Context, containerID string, task *dispatcher.Task) error {
	logs, err := r.docker.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer logs.Close()

	file, err := internal.OpenLog(r.config.LogDir, task)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = stdcopy.StdCopy(file, file, logs)
	return err
}
