package provision

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCall struct {
	stdout string
	stderr string
	err    error
}

// scriptedRunner answers docker invocations by their first argument
type scriptedRunner struct {
	responses map[string]scriptedCall
	args      [][]string
}

func (r *scriptedRunner) run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	r.args = append(r.args, args)
	resp := r.responses[args[0]]
	return []byte(resp.stdout), []byte(resp.stderr), resp.err
}

func newScripted(responses map[string]scriptedCall) (*DockerCLI, *scriptedRunner) {
	r := &scriptedRunner{responses: responses}
	return NewDockerCLIWithRunner("docker", r.run), r
}

var errExit = errors.New("exit status 1")

func TestDockerCLI_Ping(t *testing.T) {
	d, _ := newScripted(map[string]scriptedCall{"version": {stdout: "27.0.1\n"}})
	assert.NoError(t, d.Ping(context.Background()))

	d, _ = newScripted(map[string]scriptedCall{"version": {stderr: "Cannot connect to the Docker daemon", err: errExit}})
	err := d.Ping(context.Background())
	assert.True(t, errors.Is(err, ErrRuntimeUnavailable))
	assert.Contains(t, err.Error(), "Cannot connect")
}

func TestDockerCLI_ImageExists(t *testing.T) {
	d, _ := newScripted(map[string]scriptedCall{"image": {stdout: "sha256:abc"}})
	ok, err := d.ImageExists(context.Background(), "neo4j:5.26.0")
	require.NoError(t, err)
	assert.True(t, ok)

	d, _ = newScripted(map[string]scriptedCall{"image": {stderr: "Error: No such image: neo4j:5.26.0", err: errExit}})
	ok, err = d.ImageExists(context.Background(), "neo4j:5.26.0")
	require.NoError(t, err)
	assert.False(t, ok)

	d, _ = newScripted(map[string]scriptedCall{"image": {stderr: "permission denied while trying to connect", err: errExit}})
	_, err = d.ImageExists(context.Background(), "neo4j:5.26.0")
	assert.Error(t, err)
}

func TestDockerCLI_PullClassification(t *testing.T) {
	tests := []struct {
		stderr string
		want   ErrorKind
	}{
		{"Error response from daemon: pull access denied for neo4j-private", PullAuthRequired},
		{"unauthorized: authentication required", PullAuthRequired},
		{"Error response from daemon: manifest for neo4j:9.9 not found: manifest unknown", PullNotFound},
		{"Error response from daemon: Get https://registry-1.docker.io/v2/: net/http: TLS handshake timeout", PullAPIFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			d, _ := newScripted(map[string]scriptedCall{"pull": {stderr: tt.stderr, err: errExit}})
			err := d.Pull(context.Background(), "neo4j:9.9")

			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestDockerCLI_Create(t *testing.T) {
	d, r := newScripted(map[string]scriptedCall{"create": {stdout: "deadbeef\n"}})

	id, err := d.Create(context.Background(), ContainerSpec{
		Name:   "qverify-test",
		Image:  "neo4j:5.26.0",
		Env:    map[string]string{"NEO4J_AUTH": "neo4j/pw", "A": "1"},
		Labels: map[string]string{"qverify.managed": "true"},
		Ports:  []PortBinding{{HostIP: "127.0.0.1", HostPort: 17687, ContainerPort: 7687}},
		Health: &HealthCheck{Command: "cypher-shell 'RETURN 1'", Interval: 5 * time.Second, Retries: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", id)

	args := strings.Join(r.args[0], " ")
	assert.Equal(t, "create --name qverify-test --label qverify.managed=true -e A=1 -e NEO4J_AUTH=neo4j/pw "+
		"-p 127.0.0.1:17687:7687 --health-cmd cypher-shell 'RETURN 1' --health-interval 5s --health-retries 3 neo4j:5.26.0", args)
}

func TestDockerCLI_Inspect(t *testing.T) {
	state := `{"Status":"running","Running":true,"ExitCode":0,"Health":{"Status":"unhealthy","Log":[{"ExitCode":1,"Output":"Connection refused\n"}]}}`
	d, _ := newScripted(map[string]scriptedCall{"inspect": {stdout: state}})

	status, err := d.Inspect(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, HealthUnhealthy, status.Health)
	assert.Equal(t, []string{"Connection refused"}, status.HealthLog)

	d, _ = newScripted(map[string]scriptedCall{"inspect": {stdout: `{"Status":"exited","Running":false,"ExitCode":137}`}})
	status, err = d.Inspect(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Empty(t, status.Health)
	assert.Equal(t, 137, status.ExitCode)
}

func TestDockerCLI_TeardownToleratesGoneContainers(t *testing.T) {
	d, r := newScripted(map[string]scriptedCall{
		"kill": {stderr: "Error response from daemon: Container deadbeef is not running", err: errExit},
		"rm":   {stderr: "Error response from daemon: No such container: deadbeef", err: errExit},
	})

	assert.NoError(t, d.Kill(context.Background(), "deadbeef"))
	assert.NoError(t, d.Remove(context.Background(), "deadbeef", true))
	assert.Equal(t, []string{"rm", "-f", "deadbeef"}, r.args[1])
}

func TestDockerCLI_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, _ := newScripted(map[string]scriptedCall{"start": {err: errors.New("signal: killed")}})
	err := d.Start(ctx, "deadbeef")
	assert.True(t, errors.Is(err, context.Canceled))
}
