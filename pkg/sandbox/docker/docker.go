package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/nstogner/autofix/pkg/sandbox"
)

const (
	// LabelManager is the label used to identify containers managed by this system.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "autofix"
	// LabelRunID is the label used to identify which run a container belongs to.
	LabelRunID = "run-id"

	teardownTimeout = 15 * time.Second
)

// Engine is the subset of the Docker client used by Runtime.
type Engine interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options types.CopyToContainerOptions) error
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	Close() error
}

// Config describes how sandbox containers are built.
type Config struct {
	// Images maps each language to a locally available runner image.
	Images map[sandbox.Language]string
	// WorkDir is where the project is copied inside the container.
	WorkDir string
	// User optionally overrides the image user.
	User   string
	Limits sandbox.Limits
}

// DefaultConfig mirrors the runner images used by the upload service.
func DefaultConfig() Config {
	return Config{
		Images: map[sandbox.Language]string{
			sandbox.LanguagePython: "python-runner",
			sandbox.LanguageJava:   "java-runner",
		},
		WorkDir: "/work",
		Limits: sandbox.Limits{
			MemoryBytes:    256 << 20,
			NanoCPUs:       500_000_000,
			CPUShares:      512,
			PidsLimit:      64,
			Timeout:        10 * time.Second,
			MaxOutputBytes: 1 << 20,
		},
	}
}

// Runtime implements sandbox.Runtime with one throwaway Docker container
// per execution.
type Runtime struct {
	engine Engine
	cfg    Config
}

// Verify interface compliance.
var _ sandbox.Runtime = (*Runtime)(nil)

// New creates a Docker runtime using the environment's Docker settings.
func New(cfg Config) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return NewWithEngine(cli, cfg), nil
}

// NewWithEngine creates a runtime on top of an existing engine client.
func NewWithEngine(engine Engine, cfg Config) *Runtime {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/work"
	}
	return &Runtime{engine: engine, cfg: cfg}
}

// Close releases the Docker client resources.
func (r *Runtime) Close() error {
	return r.engine.Close()
}

// Execute copies runRoot into a fresh container, runs the entry file and
// returns the captured result. The container is removed before returning,
// whatever happened.
func (r *Runtime) Execute(ctx context.Context, runRoot, entryFile string, lang sandbox.Language) (*sandbox.Result, error) {
	image, ok := r.cfg.Images[lang]
	if !ok || image == "" {
		return nil, fmt.Errorf("no runner image configured for %s", lang)
	}
	if _, _, err := r.engine.ImageInspectWithRaw(ctx, image); err != nil {
		return nil, fmt.Errorf("runner image %q not found: %w", image, err)
	}

	cmd, err := command(runRoot, entryFile, lang)
	if err != nil {
		return nil, err
	}

	archive, err := tarDir(runRoot, r.cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("packing project: %w", err)
	}

	name := containerName(runRoot)
	resp, err := r.engine.ContainerCreate(ctx, r.containerConfig(image, cmd, runRoot), r.hostConfig(), nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	id := resp.ID
	slog.Debug("Sandbox container created", "name", name, "id", id, "image", image)

	// Teardown runs on a detached context so caller cancellation cannot
	// leave the container behind.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if err := r.engine.ContainerRemove(rmCtx, id, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			slog.Warn("Failed to remove sandbox container", "id", id, "error", err)
		}
	}()

	if err := r.engine.CopyToContainer(ctx, id, "/", archive, types.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("copying project into container: %w", err)
	}

	timeout := r.cfg.Limits.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Limits.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitCh, errCh := r.engine.ContainerWait(execCtx, id, container.WaitConditionNextExit)

	start := time.Now()
	if err := r.engine.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	res := &sandbox.Result{}
	select {
	case w := <-waitCh:
		if w.Error != nil && w.Error.Message != "" {
			return nil, fmt.Errorf("waiting for container: %s", w.Error.Message)
		}
		res.ExitCode = int(w.StatusCode)
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("waiting for container: %w", err)
		}
		res.TimedOut = true
		res.ExitCode = sandbox.TimeoutExitCode
		killCtx, killCancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		if err := r.engine.ContainerKill(killCtx, id, "KILL"); err != nil {
			slog.Warn("Failed to kill timed out container", "id", id, "error", err)
		}
		killCancel()
	}
	res.Duration = time.Since(start)

	logCtx, logCancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer logCancel()
	if err := r.collectLogs(logCtx, id, res); err != nil {
		return nil, err
	}
	if res.TimedOut {
		if res.Stderr != "" && res.Stderr[len(res.Stderr)-1] != '\n' {
			res.Stderr += "\n"
		}
		res.Stderr += fmt.Sprintf("execution timed out after %s", timeout)
	}

	slog.Info("Sandbox execution complete",
		"container", name,
		"exitCode", res.ExitCode,
		"timedOut", res.TimedOut,
		"duration", res.Duration,
		"stdoutLen", len(res.Stdout),
		"stderrLen", len(res.Stderr),
	)
	return res, nil
}

func (r *Runtime) collectLogs(ctx context.Context, id string, res *sandbox.Result) error {
	rc, err := r.engine.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return fmt.Errorf("reading container logs: %w", err)
	}
	defer rc.Close()

	stdout := &sandbox.LimitedBuffer{Max: r.cfg.Limits.MaxOutputBytes}
	stderr := &sandbox.LimitedBuffer{Max: r.cfg.Limits.MaxOutputBytes}
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return fmt.Errorf("demultiplexing container logs: %w", err)
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Truncated = stdout.Truncated() || stderr.Truncated()
	return nil
}

func (r *Runtime) containerConfig(image string, cmd []string, runRoot string) *container.Config {
	return &container.Config{
		Image:           image,
		Cmd:             cmd,
		WorkingDir:      r.cfg.WorkDir,
		User:            r.cfg.User,
		NetworkDisabled: true,
		Labels: map[string]string{
			LabelManager: LabelManagerValue,
			LabelRunID:   runID(runRoot),
		},
	}
}

func (r *Runtime) hostConfig() *container.HostConfig {
	l := r.cfg.Limits
	hc := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:    l.MemoryBytes,
			NanoCPUs:  l.NanoCPUs,
			CPUShares: l.CPUShares,
		},
	}
	if l.MemoryBytes > 0 {
		// Equal swap limit disables swap for the container.
		hc.Resources.MemorySwap = l.MemoryBytes
	}
	if l.PidsLimit > 0 {
		pids := l.PidsLimit
		hc.Resources.PidsLimit = &pids
	}
	return hc
}

// Reap removes managed containers left behind by a previous process.
func (r *Runtime) Reap(ctx context.Context) (int, error) {
	containers, err := r.engine.ContainerList(ctx, types.ContainerListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManager+"="+LabelManagerValue),
		),
	})
	if err != nil {
		return 0, fmt.Errorf("listing managed containers: %w", err)
	}
	removed := 0
	for _, c := range containers {
		if err := r.engine.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			slog.Warn("Failed to remove orphaned sandbox", "id", c.ID, "runID", c.Labels[LabelRunID], "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// containerName is unique per execution so concurrent runs never collide.
func containerName(runRoot string) string {
	return "autofix-" + runID(runRoot) + "-" + uuid.NewString()[:8]
}
