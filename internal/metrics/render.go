package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace 是所有指标的前缀。
const Namespace = "docrender"

var (
	renderJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "render",
			Name:      "jobs_total",
			Help:      "渲染任务按结果统计的数量。",
		},
		[]string{"status"},
	)

	renderStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "render",
			Name:      "stage_failures_total",
			Help:      "各流水线阶段的失败次数。",
		},
		[]string{"stage"},
	)

	renderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "render",
			Name:      "duration_seconds",
			Help:      "单次渲染从开始到终态的耗时（秒）。",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		},
	)

	renderedPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "render",
			Name:      "pages_total",
			Help:      "成功发布的页面数量。",
		},
	)

	renderConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "render",
			Name:      "conflicts_total",
			Help:      "因文档正在渲染而被拒绝的请求数量。",
		},
	)
)

// RenderRecorder 实现渲染协调器的指标回调。
type RenderRecorder struct{}

func (RenderRecorder) JobAccepted() {
	renderJobsTotal.WithLabelValues("rendering").Inc()
}

func (RenderRecorder) JobConflict() {
	renderConflictsTotal.Inc()
}

func (RenderRecorder) JobCompleted(pages int, elapsed time.Duration) {
	renderJobsTotal.WithLabelValues("completed").Inc()
	renderedPagesTotal.Add(float64(pages))
	renderDuration.Observe(elapsed.Seconds())
}

func (RenderRecorder) JobFailed(stage string, elapsed time.Duration) {
	renderJobsTotal.WithLabelValues("failed").Inc()
	renderStageFailures.WithLabelValues(stage).Inc()
	if elapsed > 0 {
		renderDuration.Observe(elapsed.Seconds())
	}
}
