package cli

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/qverify/internal/model"
	"github.com/ppiankov/qverify/internal/pipeline"
	"github.com/ppiankov/qverify/internal/provision"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(errors.Wrap(errors.Wrap(model.ErrConfig, "input path is required"), "verification failed")))
	assert.Equal(t, 1, ExitCode(&provision.Error{Kind: provision.PullNotFound, Op: "pull", Err: errors.New("manifest unknown")}))
	assert.Equal(t, 1, ExitCode(errors.Wrap(context.Canceled, "interrupted")))
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprint(level, " ", msg, " ", args))
}

func (l *recordingLogger) Error(msg string, args ...any) { l.add("ERROR", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("WARN", msg, args...) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("INFO", msg, args...) }
func (l *recordingLogger) Debug(msg string, args ...any) { l.add("DEBUG", msg, args...) }

func TestLogObserver_ThrottlesProgress(t *testing.T) {
	log := &recordingLogger{}
	o := newLogObserver(log)

	o.OnPhase(model.PhaseVerify)
	for i := 0; i <= 1000; i++ {
		o.OnProgress(model.PhaseVerify, i, 1000)
	}
	o.OnProgress(model.PhaseHealth, 0, 0)

	// phase line plus one line per 10% step, 0 through 10
	assert.Len(t, log.lines, 12)
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	res := &pipeline.RunResult{
		Version:  "5.26.0",
		Endpoint: "bolt://127.0.0.1:7687",
		Health:   provision.StateTimedOut,
		Summary:  model.Summary{Files: 2, Extracted: 5, Distinct: 4, Clean: 1, Deprecated: 1, Failed: 1, Skipped: 1},
		Written:  []string{"deprecated_queries_5.26.0_20240301T091522Z.csv"},
	}

	require.NoError(t, renderSummary(&buf, res))
	out := buf.String()
	assert.Contains(t, out, "qverify 5.26.0")
	assert.Contains(t, out, string(provision.StateTimedOut))
	assert.Contains(t, out, "deprecated_queries_5.26.0_20240301T091522Z.csv")
	assert.NotContains(t, out, "Nothing to report")
}

func TestRenderSummary_NothingToReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderSummary(&buf, &pipeline.RunResult{Version: "5.26.0"}))
	assert.Contains(t, buf.String(), "Nothing to report")
	assert.NotContains(t, buf.String(), "instance")
}

func TestFlagKeysAreBound(t *testing.T) {
	for name := range flagKeys {
		assert.NotNil(t, verifyCmd.Flags().Lookup(name), name)
	}
}
