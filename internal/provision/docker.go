package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Runner executes a command and returns its captured output
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// DockerCLI implements Runtime by shelling out to the docker binary
type DockerCLI struct {
	binary string
	run    Runner
}

// NewDockerCLI locates the docker binary on PATH
func NewDockerCLI() (*DockerCLI, error) {
	path, err := exec.LookPath("docker")
	if err != nil {
		return nil, errors.Wrap(ErrRuntimeUnavailable, "docker binary not found in PATH")
	}
	return &DockerCLI{binary: path, run: ExecRunner}, nil
}

// NewDockerCLIWithRunner uses a custom command runner
func NewDockerCLIWithRunner(binary string, run Runner) *DockerCLI {
	return &DockerCLI{binary: binary, run: run}
}

// commandError carries the stderr of a failed docker invocation
type commandError struct {
	args   []string
	stderr string
	err    error
}

func (e *commandError) Error() string {
	msg := strings.TrimSpace(e.stderr)
	if msg == "" {
		return fmt.Sprintf("docker %s: %v", e.args[0], e.err)
	}
	return fmt.Sprintf("docker %s: %v: %s", e.args[0], e.err, msg)
}

func (e *commandError) Unwrap() error { return e.err }

func (d *DockerCLI) invoke(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, err := d.run(ctx, d.binary, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &commandError{args: args, stderr: string(stderr), err: err}
	}
	return strings.TrimSpace(string(stdout)), nil
}

func stderrOf(err error) string {
	var cerr *commandError
	if errors.As(err, &cerr) {
		return strings.ToLower(cerr.stderr)
	}
	return ""
}

// Ping checks that the docker daemon answers
func (d *DockerCLI) Ping(ctx context.Context) error {
	if _, err := d.invoke(ctx, "version", "--format", "{{.Server.Version}}"); err != nil {
		return errors.Wrapf(ErrRuntimeUnavailable, "%v", err)
	}
	return nil
}

// ImageExists reports whether the image is present locally
func (d *DockerCLI) ImageExists(ctx context.Context, image string) (bool, error) {
	_, err := d.invoke(ctx, "image", "inspect", "--format", "{{.Id}}", image)
	if err == nil {
		return true, nil
	}
	if strings.Contains(stderrOf(err), "no such image") {
		return false, nil
	}
	return false, errors.Wrapf(err, "inspect image %s", image)
}

// Pull fetches the image and classifies failures
func (d *DockerCLI) Pull(ctx context.Context, image string) error {
	_, err := d.invoke(ctx, "pull", image)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	return &Error{Kind: classifyPull(stderrOf(err)), Op: "pull " + image, Err: err}
}

func classifyPull(stderr string) ErrorKind {
	switch {
	case strings.Contains(stderr, "unauthorized"),
		strings.Contains(stderr, "authentication required"),
		strings.Contains(stderr, "denied"):
		return PullAuthRequired
	case strings.Contains(stderr, "not found"),
		strings.Contains(stderr, "manifest unknown"),
		strings.Contains(stderr, "does not exist"):
		return PullNotFound
	default:
		return PullAPIFailure
	}
}

// Create creates the container and returns its id
func (d *DockerCLI) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	args := []string{"create"}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	for _, key := range sortedKeys(spec.Labels) {
		args = append(args, "--label", key+"="+spec.Labels[key])
	}
	for _, key := range sortedKeys(spec.Env) {
		args = append(args, "-e", key+"="+spec.Env[key])
	}
	for _, p := range spec.Ports {
		binding := strconv.Itoa(p.HostPort) + ":" + strconv.Itoa(p.ContainerPort)
		if p.HostIP != "" {
			binding = p.HostIP + ":" + binding
		}
		args = append(args, "-p", binding)
	}
	if h := spec.Health; h != nil {
		args = append(args, "--health-cmd", h.Command)
		if h.Interval > 0 {
			args = append(args, "--health-interval", h.Interval.String())
		}
		if h.Timeout > 0 {
			args = append(args, "--health-timeout", h.Timeout.String())
		}
		if h.StartPeriod > 0 {
			args = append(args, "--health-start-period", h.StartPeriod.String())
		}
		if h.Retries > 0 {
			args = append(args, "--health-retries", strconv.Itoa(h.Retries))
		}
	}
	args = append(args, spec.Image)

	id, err := d.invoke(ctx, args...)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("docker create returned no container id")
	}
	return id, nil
}

// Start starts a created container
func (d *DockerCLI) Start(ctx context.Context, id string) error {
	_, err := d.invoke(ctx, "start", id)
	return err
}

type inspectState struct {
	Status   string `json:"Status"`
	Running  bool   `json:"Running"`
	ExitCode int    `json:"ExitCode"`
	Health   *struct {
		Status string `json:"Status"`
		Log    []struct {
			ExitCode int    `json:"ExitCode"`
			Output   string `json:"Output"`
		} `json:"Log"`
	} `json:"Health"`
}

// Inspect refreshes the container status
func (d *DockerCLI) Inspect(ctx context.Context, id string) (*ContainerStatus, error) {
	out, err := d.invoke(ctx, "inspect", "--format", "{{json .State}}", id)
	if err != nil {
		return nil, err
	}

	var state inspectState
	if err := json.Unmarshal([]byte(out), &state); err != nil {
		return nil, errors.Wrapf(err, "decode state of %s", id)
	}

	status := &ContainerStatus{
		Status:   state.Status,
		Running:  state.Running,
		ExitCode: state.ExitCode,
	}
	if state.Health != nil {
		status.Health = state.Health.Status
		for _, entry := range state.Health.Log {
			status.HealthLog = append(status.HealthLog, strings.TrimSpace(entry.Output))
		}
	}
	return status, nil
}

// Logs returns the last tail lines of container output
func (d *DockerCLI) Logs(ctx context.Context, id string, tail int) (string, error) {
	stdout, stderr, err := d.run(ctx, d.binary, "logs", "--tail", strconv.Itoa(tail), id)
	if err != nil {
		return "", &commandError{args: []string{"logs"}, stderr: string(stderr), err: err}
	}
	// Container stderr arrives on the client's stderr
	return strings.TrimSpace(string(stdout) + string(stderr)), nil
}

// Kill stops the container; an already stopped container is not an error
func (d *DockerCLI) Kill(ctx context.Context, id string) error {
	_, err := d.invoke(ctx, "kill", id)
	if err != nil && strings.Contains(stderrOf(err), "is not running") {
		return nil
	}
	return err
}

// Remove deletes the container; a missing container is not an error
func (d *DockerCLI) Remove(ctx context.Context, id string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, id)
	_, err := d.invoke(ctx, args...)
	if err != nil && strings.Contains(stderrOf(err), "no such container") {
		return nil
	}
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
