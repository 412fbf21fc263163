// Package metrics 导入流程的Prometheus指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bomsync"

var (
	importJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "jobs_total",
		Help:      "Total number of BOM import jobs by terminal result.",
	}, []string{"result"})

	importDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "duration_seconds",
		Help:      "Wall time of BOM import jobs.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"result"})

	assembliesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "assemblies_total",
		Help:      "Assemblies written by the batch apply engine, by category.",
	}, []string{"category"})

	chunkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "chunk_failures_total",
		Help:      "Chunk transactions rolled back, by category.",
	}, []string{"category"})

	tagGenerationRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "tagid",
		Name:      "rounds",
		Help:      "Rounds needed to produce a batch of unique tag identifiers.",
		Buckets:   []float64{1, 2, 3, 5, 8, 10},
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Import tasks waiting in the in-memory queue.",
	})

	queueRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "retries_total",
		Help:      "Import tasks redelivered after a transient failure.",
	})
)

// ObserveImport 记录一次导入的终态和耗时
func ObserveImport(result string, elapsed time.Duration) {
	importJobs.WithLabelValues(result).Inc()
	importDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// AddAssemblies 累加某类构件的写入数量
func AddAssemblies(category string, n int) {
	if n <= 0 {
		return
	}
	assembliesApplied.WithLabelValues(category).Add(float64(n))
}

// IncChunkFailure 分块事务回滚计数
func IncChunkFailure(category string) {
	chunkFailures.WithLabelValues(category).Inc()
}

// ObserveTagRounds 记录标签生成使用的轮数
func ObserveTagRounds(rounds int) {
	tagGenerationRounds.Observe(float64(rounds))
}

// SetQueueDepth 设置内存队列积压数
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// IncQueueRetry 队列重试计数
func IncQueueRetry() {
	queueRetries.Inc()
}
