package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 上传处理结果
const (
	OutcomeSuccess      = "success"
	OutcomeNoFile       = "no_file"
	OutcomeUploadError  = "upload_error"
	OutcomeDetectFailed = "detect_failed"
)

// Metrics 标注服务的 Prometheus 指标
type Metrics struct {
	Uploads         *prometheus.CounterVec
	DetectDuration  prometheus.Histogram
	LabelsDetected  prometheus.Histogram
	OverlayFailures prometheus.Counter
	OverlayDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New 创建独立注册表上的指标集合
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labeler_uploads_total",
			Help: "Upload requests by outcome",
		}, []string{"outcome"}),
		DetectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "labeler_detect_duration_seconds",
			Help:    "Latency of the label detection call",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		LabelsDetected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "labeler_labels_per_image",
			Help:    "Number of labels returned per detection",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
		OverlayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_overlay_failures_total",
			Help: "Annotated images that could not be rendered",
		}),
		OverlayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "labeler_overlay_duration_seconds",
			Help:    "Time spent drawing and encoding the annotated image",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.Uploads,
		m.DetectDuration,
		m.LabelsDetected,
		m.OverlayFailures,
		m.OverlayDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveUpload 记录一次上传的处理结果
func (m *Metrics) ObserveUpload(outcome string) {
	m.Uploads.WithLabelValues(outcome).Inc()
}

// ObserveDetect 记录检测耗时与标签数量
func (m *Metrics) ObserveDetect(start time.Time, labels int) {
	m.DetectDuration.Observe(time.Since(start).Seconds())
	if labels >= 0 {
		m.LabelsDetected.Observe(float64(labels))
	}
}

// ObserveOverlay 记录标注图耗时与失败
func (m *Metrics) ObserveOverlay(start time.Time, ok bool) {
	m.OverlayDuration.Observe(time.Since(start).Seconds())
	if !ok {
		m.OverlayFailures.Inc()
	}
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer 创建只暴露 /metrics 的独立 HTTP 服务
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
