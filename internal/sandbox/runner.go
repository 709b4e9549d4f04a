// Package sandbox executes generated analysis code in disposable
// containers. Code is vetted against a static safety policy before it
// runs, and failed attempts go through a bounded repair loop.
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RunSpec describes a single containerized execution attempt.
type RunSpec struct {
	Script  []byte
	Env     []string
	Timeout time.Duration
}

// RunResult is the raw outcome of one container run.
type RunResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	TimedOut   bool
	OOMKilled  bool
	ResultJSON []byte // contents of /work/result.json, nil if absent
}

// ContainerRunner abstracts the container backend so the executor can be
// tested without a Docker daemon.
type ContainerRunner interface {
	Run(ctx context.Context, spec RunSpec) (*RunResult, error)
}

type dockerRunner struct {
	cli         *client.Client
	image       string
	tempDir     string
	network     string
	memoryLimit int64
	cpuLimit    int64
	logger      zerolog.Logger
}

func NewDockerRunner(image, tempDir, network string, memoryLimit, cpuLimit int64, logger zerolog.Logger) (ContainerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &dockerRunner{
		cli:         cli,
		image:       image,
		tempDir:     tempDir,
		network:     network,
		memoryLimit: memoryLimit,
		cpuLimit:    cpuLimit,
		logger:      logger.With().Str("component", "sandbox_runner").Logger(),
	}, nil
}

func (d *dockerRunner) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	scriptPath := filepath.Join(d.tempDir, fmt.Sprintf("analysis-%s.py", uuid.NewString()))
	if err := os.WriteFile(scriptPath, spec.Script, 0644); err != nil {
		return nil, errors.Wrapf(err, "failed to write script to %s", scriptPath)
	}
	defer os.Remove(scriptPath)

	if err := d.ensureImage(ctx); err != nil {
		return nil, err
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: scriptPath, Target: "/work/script.py", ReadOnly: true},
		},
		Resources: container.Resources{
			CPUShares: d.cpuLimit,
			Memory:    d.memoryLimit,
		},
		NetworkMode: container.NetworkMode(d.network),
	}

	containerConfig := &container.Config{
		Image:      d.image,
		Cmd:        []string{"python", "/work/script.py"},
		Env:        spec.Env,
		WorkingDir: "/work",
	}

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := resp.ID
	defer d.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})

	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}
	d.logger.Debug().Str("container_id", containerID).Msg("Sandbox container started")

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	result := &RunResult{}
	waitResp, errCh := d.cli.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if runCtx.Err() != nil && ctx.Err() == nil {
			// Attempt exceeded its own deadline, not the job's.
			result.TimedOut = true
			_ = d.cli.ContainerKill(context.Background(), containerID, "KILL")
		} else {
			return nil, fmt.Errorf("container wait error: %w", err)
		}
	case status := <-waitResp:
		result.ExitCode = int(status.StatusCode)
	}

	stdout, stderr, err := d.collectLogs(ctx, containerID)
	if err != nil {
		d.logger.Warn().Err(err).Str("container_id", containerID).Msg("Failed to collect container logs")
	}
	result.Stdout = stdout
	result.Stderr = stderr

	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err == nil && inspect.State != nil && inspect.State.OOMKilled {
		result.OOMKilled = true
	}

	if !result.TimedOut && result.ExitCode == 0 {
		if data, err := d.copyResult(ctx, containerID); err == nil {
			result.ResultJSON = data
		}
	}
	return result, nil
}

func (d *dockerRunner) ensureImage(ctx context.Context) error {
	if _, err := d.cli.ImageInspect(ctx, d.image); err == nil {
		return nil
	}
	d.logger.Info().Str("image", d.image).Msg("Image not found locally, pulling")
	reader, err := d.cli.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	io.Copy(io.Discard, reader)
	return nil
}

func (d *dockerRunner) collectLogs(ctx context.Context, containerID string) (string, string, error) {
	logReader, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to get container logs: %w", err)
	}
	defer logReader.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logReader); err != nil {
		return "", "", fmt.Errorf("stdcopy error: %w", err)
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

func (d *dockerRunner) copyResult(ctx context.Context, containerID string) ([]byte, error) {
	reader, _, err := d.cli.CopyFromContainer(ctx, containerID, "/work/result.json")
	if err != nil {
		return nil, fmt.Errorf("copy from container: %w", err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	if _, err := tr.Next(); err != nil {
		return nil, fmt.Errorf("tar read header: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, tr); err != nil {
		return nil, fmt.Errorf("tar read file: %w", err)
	}
	return buf.Bytes(), nil
}
