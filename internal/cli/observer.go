package cli

import (
	"sync"

	"github.com/ppiankov/qverify/internal/logger"
	"github.com/ppiankov/qverify/internal/model"
)

// logObserver reports phases at info level and progress in 10% steps at
// debug level
type logObserver struct {
	log  logger.Interface
	mu   sync.Mutex
	last map[model.Phase]int
}

func newLogObserver(log logger.Interface) *logObserver {
	return &logObserver{log: log, last: make(map[model.Phase]int)}
}

func (o *logObserver) OnPhase(phase model.Phase) {
	o.log.Info("Phase started", "phase", phase)
}

func (o *logObserver) OnProgress(phase model.Phase, done, total int) {
	if total <= 0 {
		return
	}
	step := done * 10 / total

	o.mu.Lock()
	prev, seen := o.last[phase]
	report := !seen || step > prev
	if report {
		o.last[phase] = step
	}
	o.mu.Unlock()

	if report {
		o.log.Debug("Progress", "phase", phase, "done", done, "total", total)
	}
}
