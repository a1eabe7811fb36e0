package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// scriptedExec is the behaviour of one exec in the order they are created.
type scriptedExec struct {
	stdout   string
	stderr   string
	exitCode int
	// hang keeps the stream open until the sandbox closes it
	hang bool
}

type execRecord struct {
	cmd   []string
	conn  *fakeConn
	exec  scriptedExec
	stdin bool
}

type fakeDocker struct {
	mu sync.Mutex

	execs   []scriptedExec
	records []*execRecord

	pingErr    error
	createErr  error
	images     map[string]bool
	inspectErr error

	created    *container.Config
	hostConfig *container.HostConfig
	killed     []string
	removed    []string
	pulled     []string
}

func (f *fakeDocker) Ping(ctx context.Context) (types.Ping, error) {
	if f.pingErr != nil {
		return types.Ping{}, f.pingErr
	}
	return types.Ping{APIVersion: "1.46"}, nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.created = config
	f.hostConfig = hostConfig
	return container.CreateResponse{ID: "0123456789abcdef"}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, id string, options container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerKill(ctx context.Context, id, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, id)
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, id string, options container.ExecOptions) (types.IDResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.execs) == 0 {
		return types.IDResponse{}, errors.New("unexpected exec")
	}
	rec := &execRecord{cmd: options.Cmd, exec: f.execs[0], stdin: options.AttachStdin}
	f.execs = f.execs[1:]
	f.records = append(f.records, rec)
	return types.IDResponse{ID: string(rune('0' + len(f.records) - 1))}, nil
}

func (f *fakeDocker) record(execID string) *execRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[int(execID[0]-'0')]
}

func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error) {
	rec := f.record(execID)
	pr, pw := io.Pipe()
	conn := &fakeConn{r: pr, eof: make(chan struct{})}
	rec.conn = conn

	go func() {
		if rec.stdin {
			<-conn.eof
		}
		if rec.exec.stdout != "" {
			_, _ = stdcopy.NewStdWriter(pw, stdcopy.Stdout).Write([]byte(rec.exec.stdout))
		}
		if rec.exec.stderr != "" {
			_, _ = stdcopy.NewStdWriter(pw, stdcopy.Stderr).Write([]byte(rec.exec.stderr))
		}
		if !rec.exec.hang {
			_ = pw.Close()
		}
	}()

	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(conn)}, nil
}

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	rec := f.record(execID)
	return container.ExecInspect{ExecID: execID, ExitCode: rec.exec.exitCode}, nil
}

func (f *fakeDocker) ImageInspectWithRaw(ctx context.Context, img string) (types.ImageInspect, []byte, error) {
	if f.inspectErr != nil {
		return types.ImageInspect{}, nil, f.inspectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.images[img] {
		return types.ImageInspect{ID: img}, nil, nil
	}
	return types.ImageInspect{}, nil, errdefs.NotFound(errors.New("no such image: " + img))
}

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

// fakeConn records stdin and serves the multiplexed stream written by the
// scripted exec. Close unblocks a pending Read like a real hijacked conn.
type fakeConn struct {
	net.Conn

	mu    sync.Mutex
	stdin bytes.Buffer
	r     *io.PipeReader
	eof   chan struct{}
	once  sync.Once
}

func (c *fakeConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdin.Write(p)
}

func (c *fakeConn) CloseWrite() error {
	c.once.Do(func() { close(c.eof) })
	return nil
}

func (c *fakeConn) Close() error {
	_ = c.CloseWrite()
	return c.r.CloseWithError(io.ErrClosedPipe)
}

func (c *fakeConn) Stdin() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdin.String()
}
