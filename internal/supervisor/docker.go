package supervisor

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/basket/clawdeck/internal/otel"
	"go.opentelemetry.io/otel/trace"
)

// DockerRunner launches the gateway inside an ephemeral container instead of
// as a direct child. The supervisor drives it through the same Proc handle.
type DockerRunner struct {
	client      *client.Client
	image       string
	memoryMB    int64
	networkMode string
	tracer      trace.Tracer
}

// SetTracer enables client spans around Docker API calls.
func (d *DockerRunner) SetTracer(t trace.Tracer) {
	d.tracer = t
}

// NewDockerRunner creates a runner backed by the local Docker daemon.
func NewDockerRunner(image string, memoryMB int64, networkMode string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	if image == "" {
		image = "golang:alpine"
	}
	if memoryMB <= 0 {
		memoryMB = 512
	}
	if networkMode == "" {
		networkMode = "bridge"
	}

	return &DockerRunner{
		client:      cli,
		image:       image,
		memoryMB:    memoryMB * 1024 * 1024,
		networkMode: networkMode,
	}, nil
}

func (d *DockerRunner) Spawn(ctx context.Context, spec Spec) (Proc, error) {
	if len(spec.Command) == 0 {
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("empty command")}
	}
	if d.tracer != nil {
		var span trace.Span
		ctx, span = otel.StartClientSpan(ctx, d.tracer, "docker.spawn",
			otel.AttrRunnerMode.String("docker"),
		)
		defer span.End()
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory: d.memoryMB,
		},
		NetworkMode: container.NetworkMode(d.networkMode),
		AutoRemove:  true, // Clean up automatically
	}
	if spec.Dir != "" {
		hostConfig.Binds = []string{fmt.Sprintf("%s:/workspace", spec.Dir)}
	}

	resp, err := d.client.ContainerCreate(ctx, &container.Config{
		Image:      d.image,
		Cmd:        spec.Command,
		Env:        env,
		WorkingDir: "/workspace",
		Tty:        false,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("create container: %w", err)}
	}
	containerID := resp.ID

	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("start container: %w", err)}
	}

	inspect, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		_ = d.client.ContainerKill(context.Background(), containerID, "SIGKILL")
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("inspect container: %w", err)}
	}

	p := &dockerProc{
		client:      d.client,
		containerID: containerID,
		pid:         inspect.State.Pid,
		done:        make(chan struct{}),
		code:        -1,
	}

	// Follow logs through a pipe so the supervisor reads a plain stream;
	// stdcopy strips the docker multiplexing framing.
	logs, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		_ = d.client.ContainerKill(context.Background(), containerID, "SIGKILL")
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("container logs: %w", err)}
	}
	pr, pw := io.Pipe()
	p.out = pr
	go func() {
		_, _ = stdcopy.StdCopy(pw, pw, logs)
		logs.Close()
		pw.Close()
	}()

	go func() {
		statusCh, errCh := d.client.ContainerWait(context.Background(), containerID, container.WaitConditionNotRunning)
		select {
		case status := <-statusCh:
			p.code = int(status.StatusCode)
		case <-errCh:
		}
		p.mu.Lock()
		p.exited = true
		p.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

// Close closes the docker client.
func (d *DockerRunner) Close() error {
	return d.client.Close()
}

type dockerProc struct {
	client      *client.Client
	containerID string
	pid         int
	out         io.ReadCloser
	done        chan struct{}
	code        int

	mu     sync.Mutex
	exited bool
}

func (p *dockerProc) PID() int { return p.pid }

func (p *dockerProc) Output() io.ReadCloser { return p.out }

func (p *dockerProc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

func (p *dockerProc) Terminate() error {
	if !p.Alive() {
		return nil
	}
	return p.client.ContainerKill(context.Background(), p.containerID, "SIGTERM")
}

func (p *dockerProc) Kill() error {
	if !p.Alive() {
		return nil
	}
	return p.client.ContainerKill(context.Background(), p.containerID, "SIGKILL")
}

func (p *dockerProc) Done() <-chan struct{} { return p.done }

func (p *dockerProc) ExitCode() int {
	select {
	case <-p.done:
		return p.code
	default:
		return -1
	}
}
