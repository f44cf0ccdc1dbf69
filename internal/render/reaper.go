package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Reaper 定时回收超时的渲染任务（例如 worker 崩溃后遗留的锁）。
type Reaper struct {
	coordinator *Coordinator
	cron        *cron.Cron
	timeout     time.Duration
	logger      *slog.Logger
}

func NewReaper(coordinator *Coordinator, spec string, logger *slog.Logger) (*Reaper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reaper{
		coordinator: coordinator,
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout:     time.Minute,
		logger:      logger,
	}
	if _, err := r.cron.AddFunc(spec, r.run); err != nil {
		return nil, fmt.Errorf("schedule reaper %q: %w", spec, err)
	}
	return r, nil
}

func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop 停止调度并等待正在执行的回收结束。
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	n, err := r.coordinator.ReapStale(ctx)
	if err != nil {
		r.logger.Error("reap stale render jobs failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		r.logger.Warn("reaped stale render jobs", slog.Int("count", n))
	}
}
