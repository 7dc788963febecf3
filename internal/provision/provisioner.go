package provision

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ppiankov/qverify/internal/logger"
	"github.com/ppiankov/qverify/internal/model"
)

const (
	// AdminUser and AdminPassword are the fixed credentials of provisioned instances
	AdminUser     = "neo4j"
	AdminPassword = "qverify-password"

	containerBoltPort = 7687
	containerHTTPPort = 7474

	teardownTimeout = 30 * time.Second
	logTail         = 40
)

// Options configures a Provisioner
type Options struct {
	Version        string
	Edition        string // community or enterprise
	Image          string // overrides the image derived from Version and Edition
	BoltPort       int
	HTTPPort       int
	Plugins        bool
	HealthInterval time.Duration
	HealthTimeout  time.Duration
	StrictHealth   bool
	Keep           bool
	RunID          string
	Logger         logger.Interface
	Observer       model.Observer
}

// OptionsFromConfig converts the provision section of the configuration
func OptionsFromConfig(cfg *model.Config, runID string) Options {
	return Options{
		Version:        cfg.TargetVersion,
		Edition:        cfg.Provision.Edition,
		Image:          cfg.Provision.Image,
		BoltPort:       cfg.Provision.BoltPort,
		HTTPPort:       cfg.Provision.HTTPPort,
		Plugins:        cfg.Provision.Plugins,
		HealthInterval: cfg.Provision.HealthInterval,
		HealthTimeout:  cfg.Provision.HealthTimeout,
		StrictHealth:   cfg.Provision.StrictHealth,
		Keep:           cfg.Provision.Keep,
		RunID:          runID,
	}
}

// Release tears the instance down. It is safe to call more than once and
// never fails; teardown errors are logged. When succeeded is true and the
// provisioner was configured to keep the instance, it is left running.
type Release func(succeeded bool)

// Provisioner stands up one ephemeral database container per Acquire
type Provisioner struct {
	runtime Runtime
	opts    Options
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a provisioner on the given runtime
func New(runtime Runtime, opts Options) *Provisioner {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Observer == nil {
		opts.Observer = model.NopObserver{}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 5 * time.Second
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 300 * time.Second
	}
	return &Provisioner{
		runtime: runtime,
		opts:    opts,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Image returns the image reference the provisioner runs
func (p *Provisioner) Image() string {
	if p.opts.Image != "" {
		return p.opts.Image
	}
	image := "neo4j:" + p.opts.Version
	if p.opts.Edition == "enterprise" {
		image += "-enterprise"
	}
	return image
}

// Plugins returns the plugin list for a target version. Releases before
// major version 5 only ship the reduced set.
func Plugins(version string) []string {
	if model.MajorVersion(version) < 5 {
		return []string{"apoc"}
	}
	return []string{"apoc", "graph-data-science"}
}

func (p *Provisioner) containerName() string {
	version := strings.NewReplacer(".", "-", ":", "-", "/", "-").Replace(p.opts.Version)
	if version == "" {
		version = "custom"
	}
	id := p.opts.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return "qverify-" + version + "-" + id
}

func (p *Provisioner) spec(name, image string) ContainerSpec {
	env := map[string]string{
		"NEO4J_AUTH": AdminUser + "/" + AdminPassword,
	}
	if p.opts.Edition == "enterprise" {
		env["NEO4J_ACCEPT_LICENSE_AGREEMENT"] = "yes"
	}
	if p.opts.Plugins {
		plugins, _ := json.Marshal(Plugins(p.opts.Version))
		env["NEO4J_PLUGINS"] = string(plugins)
	}

	return ContainerSpec{
		Name:  name,
		Image: image,
		Env:   env,
		Ports: []PortBinding{
			{HostIP: "127.0.0.1", HostPort: p.opts.BoltPort, ContainerPort: containerBoltPort},
			{HostIP: "127.0.0.1", HostPort: p.opts.HTTPPort, ContainerPort: containerHTTPPort},
		},
		Labels: map[string]string{
			"qverify.managed": "true",
			"qverify.run":     p.opts.RunID,
		},
		Health: &HealthCheck{
			Command:  "cypher-shell -u " + AdminUser + " -p " + AdminPassword + " 'RETURN 1'",
			Interval: p.opts.HealthInterval,
			Timeout:  10 * time.Second,
			Retries:  3,
		},
	}
}

// Acquire provisions and health-gates a container. On success the caller
// must invoke the returned Release on every exit path. On failure any
// container already created has been torn down and Release is a no-op.
func (p *Provisioner) Acquire(ctx context.Context) (*Instance, Release, error) {
	noop := func(bool) {}
	image := p.Image()
	inst := newInstance(p.containerName(), image, model.Endpoint{
		URI:      "bolt://127.0.0.1:" + strconv.Itoa(p.opts.BoltPort),
		Username: AdminUser,
		Password: AdminPassword,
	})
	p.opts.Observer.OnPhase(model.PhaseProvision)

	if err := p.runtime.Ping(ctx); err != nil {
		return nil, noop, err
	}

	p.transition(inst, StateImagePulling)
	exists, err := p.runtime.ImageExists(ctx, image)
	if err != nil {
		if ctx.Err() != nil {
			return nil, noop, ctx.Err()
		}
		return nil, noop, &Error{Kind: PullAPIFailure, Op: "inspect image " + image, Err: err}
	}
	if !exists {
		p.opts.Logger.Info("Pulling image", "image", image)
		if err := p.runtime.Pull(ctx, image); err != nil {
			var perr *Error
			if errors.As(err, &perr) {
				return nil, noop, err
			}
			if ctx.Err() != nil {
				return nil, noop, ctx.Err()
			}
			return nil, noop, &Error{Kind: PullAPIFailure, Op: "pull " + image, Err: err}
		}
	}

	id, err := p.runtime.Create(ctx, p.spec(inst.Name, image))
	if err != nil {
		// A create interrupted mid-flight may still leave a container behind
		p.removeByName(inst.Name)
		if ctx.Err() != nil {
			return nil, noop, ctx.Err()
		}
		return nil, noop, &Error{Kind: CreateFailure, Op: "create " + inst.Name, Err: err}
	}
	inst.ContainerID = id
	p.transition(inst, StateCreated)
	release := p.releaser(inst)

	p.transition(inst, StateStarting)
	if err := p.runtime.Start(ctx, id); err != nil {
		release(false)
		if ctx.Err() != nil {
			return nil, noop, ctx.Err()
		}
		return nil, noop, &Error{Kind: StartFailure, Op: "start " + inst.Name, Err: err}
	}

	p.transition(inst, StateHealthPending)
	outcome, err := p.awaitHealthy(ctx, inst)
	if err != nil {
		release(false)
		return nil, noop, err
	}
	p.transition(inst, outcome)

	if outcome != StateHealthy {
		if p.opts.StrictHealth {
			release(false)
			return nil, noop, errors.Wrapf(ErrHealthGate, "%s is %s", inst.Name, outcome)
		}
		p.opts.Logger.Warn("Instance did not become healthy, verifying anyway",
			"container", inst.Name, "state", outcome)
	}

	return inst, release, nil
}

func (p *Provisioner) transition(inst *Instance, s State) {
	inst.setState(s)
	p.opts.Logger.Debug("Instance state changed", "container", inst.Name, "state", s)
}

// awaitHealthy polls the container until it reports healthy, exits, or the
// health timeout passes. An unhealthy report is not terminal while time
// remains since the probe may recover once the server finishes starting.
func (p *Provisioner) awaitHealthy(ctx context.Context, inst *Instance) (State, error) {
	p.opts.Observer.OnPhase(model.PhaseHealth)

	start := p.now()
	deadline := start.Add(p.opts.HealthTimeout)
	polls := int(p.opts.HealthTimeout / p.opts.HealthInterval)
	if polls < 1 {
		polls = 1
	}

	var last *ContainerStatus
	for poll := 1; ; poll++ {
		status, err := p.runtime.Inspect(ctx, inst.ContainerID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			p.opts.Logger.Debug("Health poll failed", "container", inst.Name, logger.Error(err))
		case !status.Running:
			last = status
			p.dumpDiagnostics(ctx, inst, last)
			return StateUnhealthy, nil
		case status.Health == HealthHealthy:
			p.opts.Observer.OnProgress(model.PhaseHealth, polls, polls)
			p.opts.Logger.Info("Instance is healthy", "container", inst.Name, "elapsed", p.now().Sub(start).Round(time.Second))
			return StateHealthy, nil
		default:
			last = status
		}

		p.opts.Observer.OnProgress(model.PhaseHealth, min(poll, polls), polls)

		if !p.now().Before(deadline) {
			p.dumpDiagnostics(ctx, inst, last)
			if last != nil && last.Health == HealthUnhealthy {
				return StateUnhealthy, nil
			}
			return StateTimedOut, nil
		}

		if err := p.sleep(ctx, p.opts.HealthInterval); err != nil {
			return "", err
		}
	}
}

// dumpDiagnostics logs the last probe output and the container log tail
func (p *Provisioner) dumpDiagnostics(ctx context.Context, inst *Instance, status *ContainerStatus) {
	if status != nil {
		args := []any{"container", inst.Name, "status", status.Status, "health", status.Health}
		if n := len(status.HealthLog); n > 0 {
			args = append(args, "probe_output", status.HealthLog[n-1])
		}
		if !status.Running {
			args = append(args, "exit_code", status.ExitCode)
		}
		p.opts.Logger.Warn("Instance health check did not pass", args...)
	}

	logs, err := p.runtime.Logs(ctx, inst.ContainerID, logTail)
	if err != nil {
		p.opts.Logger.Debug("Could not read container logs", "container", inst.Name, logger.Error(err))
		return
	}
	if logs != "" {
		p.opts.Logger.Warn("Container log tail", "container", inst.Name, "logs", logs)
	}
}

func (p *Provisioner) removeByName(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := p.runtime.Remove(ctx, name, true); err != nil {
		p.opts.Logger.Debug("Cleanup after failed create", "container", name, logger.Error(err))
	}
}

// releaser builds the idempotent teardown for a created container. Teardown
// runs under its own context so it still works after ctx was cancelled.
func (p *Provisioner) releaser(inst *Instance) Release {
	var once sync.Once
	return func(succeeded bool) {
		once.Do(func() {
			if succeeded && p.opts.Keep {
				p.opts.Logger.Warn("Keeping instance running", "container", inst.Name,
					"uri", inst.Endpoint.URI, "remove_with", "docker rm -f "+inst.Name)
				return
			}

			p.opts.Observer.OnPhase(model.PhaseTeardown)
			ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
			defer cancel()

			if err := p.runtime.Kill(ctx, inst.ContainerID); err != nil {
				p.opts.Logger.Warn("Failed to stop container", "container", inst.Name, logger.Error(err))
			}
			if err := p.runtime.Remove(ctx, inst.ContainerID, true); err != nil {
				p.opts.Logger.Error("Failed to remove container", "container", inst.Name, logger.Error(err))
			}
			p.transition(inst, StateTerminated)
		})
	}
}
