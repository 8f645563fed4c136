package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// Engine is the container runtime surface the adapter needs.
type Engine interface {
	CopyTo(ctx context.Context, container, dstDir string, tarball io.Reader) error
	Exec(ctx context.Context, container string, cmd []string) (string, error)
	Signal(ctx context.Context, container, signal string) error
	Close() error
}

// Connect opens the Docker daemon at host, or the environment default when
// host is empty.
func Connect(host string) (Engine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &dockerEngine{client: cli}, nil
}

type dockerEngine struct {
	client *client.Client
}

func (e *dockerEngine) CopyTo(ctx context.Context, container, dstDir string, tarball io.Reader) error {
	err := e.client.CopyToContainer(ctx, container, dstDir, tarball, types.CopyToContainerOptions{})
	return notFound(container, err)
}

func (e *dockerEngine) Exec(ctx context.Context, container string, cmd []string) (string, error) {
	created, err := e.client.ContainerExecCreate(ctx, container, types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", notFound(container, err)
	}
	attached, err := e.client.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return "", err
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil {
		return "", fmt.Errorf("read exec output: %w", err)
	}
	inspect, err := e.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return "", err
	}
	if inspect.ExitCode != 0 {
		return "", fmt.Errorf("%s exited %d: %s", strings.Join(cmd, " "), inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (e *dockerEngine) Signal(ctx context.Context, container, signal string) error {
	return notFound(container, e.client.ContainerKill(ctx, container, signal))
}

func (e *dockerEngine) Close() error {
	return e.client.Close()
}

func notFound(container string, err error) error {
	if err != nil && errdefs.IsNotFound(err) {
		return fmt.Errorf("container %s not found", container)
	}
	return err
}
