package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/harness"
	"github.com/itstheanurag/codemare/internal/languages"
	"github.com/itstheanurag/codemare/internal/metrics"
	"github.com/itstheanurag/codemare/internal/models"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	workDir     = "/home/sandbox"
	sandboxUser = "nobody"
	// exec inspect can lag behind the end of the attach stream
	inspectAttempts = 50
	inspectInterval = 10 * time.Millisecond
)

// dockerAPI is the subset of the Engine client the sandbox uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, container string, options container.StartOptions) error
	ContainerKill(ctx context.Context, container, signal string) error
	ContainerRemove(ctx context.Context, container string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, container string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ImageInspectWithRaw(ctx context.Context, image string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
}

type DockerSandbox struct {
	cli      dockerAPI
	registry *languages.Registry
	limits   Limits
	logger   *zerolog.Logger
}

func NewDockerSandbox(registry *languages.Registry, limits Limits, logger *zerolog.Logger) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.SandboxUnavailable, "failed to create docker client: %v", err)
	}
	return newDockerSandbox(cli, registry, limits, logger), nil
}

func newDockerSandbox(cli dockerAPI, registry *languages.Registry, limits Limits, logger *zerolog.Logger) *DockerSandbox {
	return &DockerSandbox{cli: cli, registry: registry, limits: limits, logger: logger}
}

// Ping reports whether the container runtime is reachable.
func (s *DockerSandbox) Ping(ctx context.Context) error {
	if _, err := s.cli.Ping(ctx); err != nil {
		return apperr.Wrapf(err, apperr.SandboxUnavailable, "docker is unavailable: %v", err)
	}
	return nil
}

func (s *DockerSandbox) Run(ctx context.Context, prog harness.Program) (*Result, error) {
	rt, err := s.registry.Get(prog.Language)
	if err != nil {
		return nil, err
	}

	var sourceFile string
	var compileCmd, runCmd []string
	switch prog.Mode {
	case models.ModeFunction:
		if len(rt.Config.FunctionCommand) == 0 {
			return nil, apperr.Newf(apperr.UnsupportedLanguage, "Function mode is not supported for %s", prog.Language)
		}
		runCmd = rt.Config.FunctionCommand
	case models.ModeRaw:
		sourceFile = prog.SourceFile
		if sourceFile == "" {
			sourceFile = rt.Config.SourceFile
		}
		compileCmd, runCmd = rt.Config.Commands(sourceFile)
	default:
		return nil, apperr.InvalidRequestf("Unknown execution mode: %s", prog.Mode)
	}

	id, err := s.createContainer(ctx, rt.Config.Image)
	if err != nil {
		return nil, err
	}
	defer s.remove(id)

	log := s.logger.With().Str("container", shortID(id)).Str("language", string(prog.Language)).Logger()

	// The root filesystem is read-only, so the source goes into the tmpfs
	// scratch dir through an exec'd cat.
	if sourceFile != "" {
		writeCmd := []string{"sh", "-c", fmt.Sprintf("cat > %s/%s", workDir, sourceFile)}
		res, err := s.exec(ctx, id, writeCmd, []byte(prog.Text), s.limits.CompileTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to write source code: %w", err)
		}
		if res.ExitCode != 0 {
			return nil, apperr.Newf(apperr.Internal, "failed to write source code: %s", strings.TrimSpace(res.Stderr))
		}
		log.Debug().Str("file", sourceFile).Msg("source code written via exec")
	}

	if len(compileCmd) > 0 {
		start := time.Now()
		res, err := s.exec(ctx, id, compileCmd, nil, s.limits.CompileTimeout)
		metrics.ExecutionDuration.WithLabelValues(string(prog.Language), "compile").Observe(float64(time.Since(start).Milliseconds()))
		if apperr.Is(err, apperr.TimeLimitExceeded) {
			return res, apperr.Wrapf(err, apperr.CompilationError, "Compilation timed out")
		}
		if err != nil {
			return res, err
		}
		if res.ExitCode != 0 {
			return res, apperr.Newf(apperr.CompilationError, "%s", diagnostic(res))
		}
	}

	res, err := s.exec(ctx, id, runCmd, prog.Stdin, s.limits.Timeout)
	if err != nil {
		log.Debug().Err(err).Msg("invocation did not complete")
		return res, err
	}
	metrics.ExecutionDuration.WithLabelValues(string(prog.Language), "run").Observe(float64(res.Duration.Milliseconds()))

	if res.ExitCode != 0 {
		return res, apperr.Newf(apperr.RuntimeFailure, "%s", diagnostic(res))
	}
	return res, nil
}

func (s *DockerSandbox) createContainer(ctx context.Context, img string) (string, error) {
	start := time.Now()
	pidsLimit := s.limits.MaxProcesses

	resp, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image: img,
		// Kept alive while source is written and compiled; every step is an exec.
		Cmd:             []string{"sleep", "infinity"},
		Tty:             false,
		NetworkDisabled: true,
		WorkingDir:      workDir,
		User:            sandboxUser,
		Labels:          map[string]string{"codemare.sandbox": "true"},
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:     s.limits.MemoryBytes,
			MemorySwap: s.limits.MemoryBytes, // no swap
			NanoCPUs:   int64(s.limits.CPUFraction * 1e9),
			PidsLimit:  &pidsLimit,
		},
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		Tmpfs: map[string]string{
			workDir: "rw,exec,nosuid,size=64m,mode=1777",
			"/tmp":  "rw,noexec,nosuid,size=16m,mode=1777",
		},
	}, nil, nil, "")
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", apperr.Wrapf(err, apperr.SandboxUnavailable, "image %s is not available", img)
		}
		return "", apperr.Wrapf(err, apperr.SandboxUnavailable, "failed to create container: %v", err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		s.remove(resp.ID)
		return "", apperr.Wrapf(err, apperr.SandboxUnavailable, "failed to start container: %v", err)
	}

	metrics.ContainerCreationTime.Observe(float64(time.Since(start).Milliseconds()))
	return resp.ID, nil
}

// exec runs cmd inside the container, streaming stdin when non-nil. It races
// the attach stream against timeout and ctx; the losing paths kill the
// container and close the stream so the copy goroutine always returns.
func (s *DockerSandbox) exec(ctx context.Context, id string, cmd []string, stdin []byte, timeout time.Duration) (*Result, error) {
	execResp, err := s.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workDir,
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	startTime := time.Now()

	if stdin != nil {
		go func() {
			if len(stdin) > 0 {
				_, _ = attach.Conn.Write(stdin)
			}
			_ = attach.CloseWrite()
		}()
	}

	budget := &outputBudget{remaining: s.limits.OutputLimitBytes}
	stdout := &cappedBuffer{budget: budget}
	stderr := &cappedBuffer{budget: budget}

	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if errors.Is(err, errOutputLimit) {
			s.kill(id)
			return &Result{Killed: true, Duration: time.Since(startTime)}, apperr.New(apperr.OutputTooLarge)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read execution logs: %w", err)
		}
	case <-timer.C:
		s.kill(id)
		attach.Close()
		<-done
		return &Result{TimedOut: true, Killed: true, Duration: timeout}, apperr.New(apperr.TimeLimitExceeded)
	case <-ctx.Done():
		s.kill(id)
		attach.Close()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Result{TimedOut: true, Killed: true, Duration: time.Since(startTime)}, apperr.New(apperr.TimeLimitExceeded)
		}
		return nil, apperr.Wrapf(ctx.Err(), apperr.Internal, "execution cancelled")
	}

	duration := time.Since(startTime)

	inspect, err := s.waitExec(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
		Duration: duration,
	}, nil
}

func (s *DockerSandbox) waitExec(ctx context.Context, execID string) (container.ExecInspect, error) {
	var inspect container.ExecInspect
	var err error
	for i := 0; i < inspectAttempts; i++ {
		inspect, err = s.cli.ContainerExecInspect(ctx, execID)
		if err != nil || !inspect.Running {
			return inspect, err
		}
		time.Sleep(inspectInterval)
	}
	return inspect, nil
}

func (s *DockerSandbox) kill(id string) {
	if err := s.cli.ContainerKill(context.Background(), id, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) {
		s.logger.Warn().Err(err).Str("container", shortID(id)).Msg("failed to kill container")
	}
}

func (s *DockerSandbox) remove(id string) {
	err := s.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		s.logger.Warn().Err(err).Str("container", shortID(id)).Msg("failed to remove container")
	}
}

// ImageStatus inspects every configured language image concurrently.
func (s *DockerSandbox) ImageStatus(ctx context.Context) (ImageReport, error) {
	images := s.registry.Images()
	present := make([]bool, len(images))

	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			_, _, err := s.cli.ImageInspectWithRaw(gctx, img)
			switch {
			case err == nil:
				present[i] = true
			case errdefs.IsNotFound(err):
			default:
				return fmt.Errorf("failed to inspect image %s: %w", img, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ImageReport{}, apperr.Wrapf(err, apperr.SandboxUnavailable, "%v", err)
	}

	report := ImageReport{Available: []string{}, Missing: []string{}}
	for i, img := range images {
		if present[i] {
			report.Available = append(report.Available, img)
		} else {
			report.Missing = append(report.Missing, img)
		}
	}
	return report, nil
}

func (s *DockerSandbox) EnsureImage(ctx context.Context, img string) error {
	_, _, err := s.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return apperr.Wrapf(err, apperr.SandboxUnavailable, "failed to inspect image %s: %v", img, err)
	}

	s.logger.Info().Str("image", img).Msg("pulling docker image")
	reader, err := s.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return apperr.Wrapf(err, apperr.SandboxUnavailable, "failed to pull image %s: %v", img, err)
	}
	defer reader.Close()

	// the pull only finishes once the progress stream is drained
	_, _ = io.Copy(io.Discard, reader)

	s.logger.Info().Str("image", img).Msg("successfully pulled docker image")
	return nil
}

func diagnostic(res *Result) string {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	if msg == "" {
		msg = fmt.Sprintf("Process exited with code %d", res.ExitCode)
	}
	return msg
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
