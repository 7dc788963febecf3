package provision

import (
	"context"
	"time"
)

// PortBinding publishes a container port on a host address
type PortBinding struct {
	HostIP        string
	HostPort      int
	ContainerPort int
}

// HealthCheck is the probe the runtime runs inside the container
type HealthCheck struct {
	Command     string
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
}

// ContainerSpec describes the container to create
type ContainerSpec struct {
	Name   string
	Image  string
	Env    map[string]string
	Ports  []PortBinding
	Labels map[string]string
	Health *HealthCheck
}

// Health status values reported by the runtime
const (
	HealthStarting  = "starting"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// ContainerStatus is a refreshed view of a container
type ContainerStatus struct {
	Status    string // created, running, exited, ...
	Running   bool
	ExitCode  int
	Health    string // empty when the container has no health check
	HealthLog []string
}

// Runtime is the container runtime the provisioner drives
type Runtime interface {
	Ping(ctx context.Context) error
	ImageExists(ctx context.Context, image string) (bool, error)
	Pull(ctx context.Context, image string) error
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, id string) error
	Inspect(ctx context.Context, id string) (*ContainerStatus, error)
	Logs(ctx context.Context, id string, tail int) (string, error)
	Kill(ctx context.Context, id string) error
	Remove(ctx context.Context, id string, force bool) error
}
