package replication

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// replMetrics prometheus-метрики подсистемы репликации.
// Регистрация в дефолтном регистре выполняется один раз на процесс.
type replMetrics struct {
	ticksTotal       prometheus.Counter
	ticksSkipped     prometheus.Counter
	dirtyPerTick     prometheus.Histogram
	batchesSent      prometheus.Counter
	recordsSent      prometheus.Counter
	observersSkipped prometheus.Counter
	recvBatches      prometheus.Counter
	recvRecords      prometheus.Counter
	recvDropped      prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *replMetrics
)

func getMetrics() *replMetrics {
	metricsOnce.Do(func() {
		metricsInst = &replMetrics{
			ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "replication",
				Name:      "ticks_total",
				Help:      "Количество выполненных тиков рассылки.",
			}),
			ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "replication",
				Name:      "ticks_skipped_total",
				Help:      "Тики, пропущенные из-за отсутствия наблюдателей.",
			}),
			dirtyPerTick: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "replication",
				Name:      "dirty_entities_per_tick",
				Help:      "Размер dirty-набора за тик.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
			}),
			batchesSent: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "replication",
				Name:      "batches_sent_total",
				Help:      "Количество отправленных батчей поз.",
			}),
			recordsSent: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "replication",
				Name:      "records_sent_total",
				Help:      "Количество отправленных записей поз.",
			}),
			observersSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "replication",
				Name:      "observers_skipped_total",
				Help:      "Пропуски наблюдателей без опорной позиции.",
			}),
			recvBatches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "replication",
				Name:      "recv_batches_total",
				Help:      "Количество принятых батчей поз.",
			}),
			recvRecords: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "replication",
				Name:      "recv_records_total",
				Help:      "Количество принятых записей поз.",
			}),
			recvDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "replication",
				Name:      "recv_records_dropped_total",
				Help:      "Записи, отброшенные из-за неизвестного id сущности.",
			}),
		}
		prometheus.MustRegister(
			metricsInst.ticksTotal,
			metricsInst.ticksSkipped,
			metricsInst.dirtyPerTick,
			metricsInst.batchesSent,
			metricsInst.recordsSent,
			metricsInst.observersSkipped,
			metricsInst.recvBatches,
			metricsInst.recvRecords,
			metricsInst.recvDropped,
		)
	})
	return metricsInst
}
