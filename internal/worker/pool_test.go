package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubResult struct {
	id  int
	err error
}

func (r *stubResult) GetError() error {
	return r.err
}

// probe records how many jobs ran and the peak number running at once
type probe struct {
	executed int32
	running  int32
	mu       sync.Mutex
	peak     int32
}

func (p *probe) enter() {
	n := atomic.AddInt32(&p.running, 1)
	atomic.AddInt32(&p.executed, 1)
	p.mu.Lock()
	if n > p.peak {
		p.peak = n
	}
	p.mu.Unlock()
}

func (p *probe) leave() {
	atomic.AddInt32(&p.running, -1)
}

func (p *probe) maxRunning() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// stubJob sleeps for hold (or until cancelled) and optionally fails
type stubJob struct {
	id      int
	hold    time.Duration
	fail    bool
	probe   *probe
	started chan struct{}
}

func (j *stubJob) Execute(ctx context.Context) Result {
	if j.probe != nil {
		j.probe.enter()
		defer j.probe.leave()
	}
	if j.started != nil {
		close(j.started)
	}
	if j.hold > 0 {
		select {
		case <-time.After(j.hold):
		case <-ctx.Done():
			return &stubResult{id: j.id, err: ctx.Err()}
		}
	}
	if j.fail {
		return &stubResult{id: j.id, err: errors.New("explain failed")}
	}
	return &stubResult{id: j.id}
}

// drain closes the pool and collects every result
func drain(p *Pool) []Result {
	p.Close()
	var results []Result
	for res := range p.Results() {
		results = append(results, res)
	}
	return results
}

func TestNewPool_WorkerCount(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{5, 5},
		{1, 1},
		{0, 1},
		{-3, 1},
	}
	for _, tt := range tests {
		p := NewPool(context.Background(), tt.in)
		if p.workers != tt.want {
			t.Errorf("NewPool(%d): expected %d workers, got %d", tt.in, tt.want, p.workers)
		}
		p.Close()
	}
}

func TestPool_BoundedConcurrency(t *testing.T) {
	for _, workers := range []int{1, 4, 8} {
		pr := &probe{}
		pool := NewPool(context.Background(), workers)
		pool.Start()

		const jobs = 40
		go func() {
			defer pool.Close()
			for i := 0; i < jobs; i++ {
				pool.Submit(&stubJob{id: i, hold: 5 * time.Millisecond, probe: pr})
			}
		}()

		seen := make(map[int]bool)
		for res := range pool.Results() {
			seen[res.(*stubResult).id] = true
		}

		if len(seen) != jobs {
			t.Errorf("workers=%d: expected %d distinct results, got %d", workers, jobs, len(seen))
		}
		if got := atomic.LoadInt32(&pr.executed); got != jobs {
			t.Errorf("workers=%d: expected %d executions, got %d", workers, jobs, got)
		}
		if peak := pr.maxRunning(); peak > int32(workers) {
			t.Errorf("workers=%d: %d jobs ran at once", workers, peak)
		}
	}
}

func TestPool_CollectsErrors(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	pool.Submit(&stubJob{id: 1, fail: true})
	pool.Submit(&stubJob{id: 2})
	pool.Submit(&stubJob{id: 3, fail: true})

	results := drain(pool)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	failed := 0
	for _, res := range results {
		if res.GetError() != nil {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("expected 2 failed results, got %d", failed)
	}
}

func TestPool_CloseIsIdempotent(t *testing.T) {
	pool := NewPool(context.Background(), 1)
	pool.Start()
	pool.Submit(&stubJob{id: 1})

	pool.Close()
	pool.Close()

	if got := len(drain(pool)); got != 1 {
		t.Errorf("expected 1 result, got %d", got)
	}
}

func TestPool_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1)
	pool.Start()

	started := make(chan struct{})
	pool.Submit(&stubJob{id: 1, hold: time.Minute, started: started})
	<-started
	cancel()

	if pool.Submit(&stubJob{id: 2}) {
		t.Error("Submit accepted a job after the parent was cancelled")
	}

	done := make(chan struct{})
	go func() {
		drain(pool)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("results were not closed after parent cancellation")
	}
}
