// Package runtime drives containerd to provision, start, stop, and tear
// down the one container each tenant runs its bridge process in.
package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// Namespace is the containerd namespace every tenant container lives in.
	Namespace = "nexusd"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// defaultStopTimeout bounds how long StopContainer waits for a
	// graceful SIGTERM exit before escalating to SIGKILL.
	defaultStopTimeout = 15 * time.Second
)

// Status is the coarse state of a tenant's container, as observed from
// containerd rather than recorded in storage.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusFailed  Status = "failed"
	StatusUnknown Status = "unknown"
)

// Mount is a host-path bind mount into the container.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// ContainerSpec is everything Provision needs to build a tenant's
// container; the worker assembles this from the rendered compose
// topology plus the tenant's decrypted ConfigRevision env.
type ContainerSpec struct {
	TenantID string
	Image    string
	Env      map[string]string
	Mounts   []Mount
	// CPUCores and MemoryBytes are zero for "no limit".
	CPUCores    float64
	MemoryBytes int64
}

func (s ContainerSpec) toOCIMounts() []specs.Mount {
	out := make([]specs.Mount, 0, len(s.Mounts))
	for _, m := range s.Mounts {
		opts := []string{"rbind"}
		if m.ReadOnly {
			opts = append(opts, "ro")
		} else {
			opts = append(opts, "rw")
		}
		out = append(out, specs.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        "bind",
			Options:     opts,
		})
	}
	return out
}

func (s ContainerSpec) envSlice() []string {
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	return out
}

// Runtime wraps a containerd client scoped to the nexusd namespace.
type Runtime struct {
	client  *containerd.Client
	logsDir string
}

// New connects to containerd at socketPath. logsDir holds one file per
// tenant container's combined stdout/stderr.
func New(socketPath, logsDir string) (*Runtime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}
	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			client.Close()
			return nil, fmt.Errorf("create logs directory: %w", err)
		}
	}
	return &Runtime{client: client, logsDir: logsDir}, nil
}

// Close closes the containerd client connection.
func (r *Runtime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Runtime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

// PullImage pulls and unpacks imageRef if not already present.
func (r *Runtime) PullImage(ctx context.Context, imageRef string) error {
	ctx = r.ctx(ctx)
	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return nil
}

// Provision creates (but does not start) the tenant's container. Calling
// it again for an already-provisioned tenant is an error; callers should
// Delete first when re-provisioning with a new image or spec.
func (r *Runtime) Provision(ctx context.Context, spec ContainerSpec) error {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		return fmt.Errorf("failed to get image %s: %w", spec.Image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.envSlice()),
	}
	if spec.CPUCores > 0 {
		shares := uint64(spec.CPUCores * 1024)
		quota := int64(spec.CPUCores * 100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, 100000))
	}
	if spec.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryBytes)))
	}
	if mounts := spec.toOCIMounts(); len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	_, err = r.client.NewContainer(
		ctx,
		spec.TenantID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.TenantID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// Start creates and starts the task for an already-provisioned container.
func (r *Runtime) Start(ctx context.Context, tenantID string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", tenantID, err)
	}

	creator := cio.NullIO
	if r.logsDir != "" {
		logPath := r.logPath(tenantID)
		creator = cio.LogFile(logPath)
	}

	task, err := container.NewTask(ctx, creator)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

// Stop gracefully stops the tenant's running task, escalating to SIGKILL
// if it doesn't exit within defaultStopTimeout.
func (r *Runtime) Stop(ctx context.Context, tenantID string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", tenantID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil // no task means nothing to stop
	}

	stopCtx, cancel := context.WithTimeout(ctx, defaultStopTimeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
		<-statusC
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// Restart stops and starts the tenant's container in place.
func (r *Runtime) Restart(ctx context.Context, tenantID string) error {
	if err := r.Stop(ctx, tenantID); err != nil {
		return err
	}
	return r.Start(ctx, tenantID)
}

// Delete stops (if running) and removes the container and its snapshot.
func (r *Runtime) Delete(ctx context.Context, tenantID string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, tenantID)
	if err != nil {
		return nil // already gone
	}

	if err := r.Stop(ctx, tenantID); err != nil {
		return fmt.Errorf("stop before delete: %w", err)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// GetStatus reports the tenant's container state.
func (r *Runtime) GetStatus(ctx context.Context, tenantID string) (Status, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, tenantID)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to load container %s: %w", tenantID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return StatusStopped, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return StatusFailed, fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		return StatusRunning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return StatusStopped, nil
		}
		return StatusFailed, nil
	default:
		return StatusUnknown, nil
	}
}

// IsRunning is a convenience wrapper around GetStatus.
func (r *Runtime) IsRunning(ctx context.Context, tenantID string) bool {
	status, err := r.GetStatus(ctx, tenantID)
	return err == nil && status == StatusRunning
}

// ListContainers returns the tenant ids with a container in the namespace.
func (r *Runtime) ListContainers(ctx context.Context) ([]string, error) {
	ctx = r.ctx(ctx)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}

func (r *Runtime) logPath(tenantID string) string {
	return filepath.Join(r.logsDir, tenantID+".log")
}

// Logs opens the tenant's combined stdout/stderr log file for reading.
// Returns an error if the runtime wasn't configured with a logs directory
// or the tenant has never been started.
func (r *Runtime) Logs(tenantID string) (io.ReadCloser, error) {
	if r.logsDir == "" {
		return nil, fmt.Errorf("runtime has no logs directory configured")
	}
	f, err := os.Open(r.logPath(tenantID))
	if err != nil {
		return nil, fmt.Errorf("open logs for %s: %w", tenantID, err)
	}
	return f, nil
}
