package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/voxelmap/internal/logging"
	"github.com/annel0/voxelmap/internal/voxel"
)

// MetricsExporter инкапсулирует Prometheus-метрики очереди сжатия
// воксельных блоков и периодически обновляет их. Экспортер опирается
// только на снимки CompressionQueue.Stats и не знает о внутреннем
// устройстве очереди.
type MetricsExporter struct {
	queue *voxel.CompressionQueue
	quit  chan struct{}
	done  chan struct{}
	// Prometheus metrics
	allocated      prometheus.Gauge
	blocks         prometheus.Gauge
	compressed     prometheus.Gauge
	compressions   prometheus.Counter
	decompressions prometheus.Counter
	compressErrs   prometheus.Counter
	decompressErrs prometheus.Counter

	lastCompressions   uint64
	lastDecompressions uint64
	lastCompressErrs   uint64
	lastDecompressErrs uint64
}

// NewMetricsExporter создаёт экспортер, но не запускает HTTP-сервер.
func NewMetricsExporter(queue *voxel.CompressionQueue) *MetricsExporter {
	me := &MetricsExporter{
		queue: queue,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		allocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxelmap",
			Name:      "blocks_allocated_bytes",
			Help:      "Суммарный учитываемый размер воксельных блоков.",
		}),
		blocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxelmap",
			Name:      "blocks_registered",
			Help:      "Количество зарегистрированных воксельных блоков.",
		}),
		compressed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxelmap",
			Name:      "blocks_compressed",
			Help:      "Количество блоков, находящихся в сжатом состоянии.",
		}),
		compressions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxelmap",
			Name:      "block_compressions_total",
			Help:      "Общее число сжатий блоков регулятором.",
		}),
		decompressions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxelmap",
			Name:      "block_decompressions_total",
			Help:      "Общее число распаковок блоков при удержании.",
		}),
		compressErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxelmap",
			Name:      "block_compression_errors_total",
			Help:      "Сжатий, отклонённых из-за несжимаемых данных или ошибок кодека.",
		}),
		decompressErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxelmap",
			Name:      "block_decompression_errors_total",
			Help:      "Ошибок распаковки; такие блоки становятся нечитаемыми.",
		}),
	}

	// Регистрируем метрики в глобальном регистре Prometheus.
	prometheus.MustRegister(me.allocated, me.blocks, me.compressed,
		me.compressions, me.decompressions, me.compressErrs, me.decompressErrs)
	return me
}

// Start запускает HTTP-эндпоинт /metrics и цикл обновления метрик
func (me *MetricsExporter) Start(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("❌ Ошибка HTTP-сервера метрик: %v", err)
		}
	}()

	go func() {
		defer close(me.done)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-me.quit:
				server.Close()
				return
			case <-ticker.C:
				me.update()
			}
		}
	}()

	logging.Info("📊 Prometheus метрики доступны на :%d/metrics", port)
}

// Stop останавливает экспортер и HTTP-сервер
func (me *MetricsExporter) Stop() {
	close(me.quit)
	<-me.done
}

// update переносит снимок показателей очереди в метрики
func (me *MetricsExporter) update() {
	s := me.queue.Stats()
	me.allocated.Set(float64(s.AllocatedBytes))
	me.blocks.Set(float64(s.BlockCount))
	me.compressed.Set(float64(s.CompressedBlocks))

	me.compressions.Add(float64(s.CompressionsTotal - me.lastCompressions))
	me.decompressions.Add(float64(s.DecompressionsTotal - me.lastDecompressions))
	me.compressErrs.Add(float64(s.CompressionErrors - me.lastCompressErrs))
	me.decompressErrs.Add(float64(s.DecompressionErrors - me.lastDecompressErrs))

	me.lastCompressions = s.CompressionsTotal
	me.lastDecompressions = s.DecompressionsTotal
	me.lastCompressErrs = s.CompressionErrors
	me.lastDecompressErrs = s.DecompressionErrors
}
