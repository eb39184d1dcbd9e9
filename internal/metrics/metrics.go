// Package metrics Prometheus指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ocrflow_http_requests_total",
	Help: "Total number of requests labelled by route and status",
}, []string{"route", "status"})

var ocrRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ocrflow_ocr_requests_total",
	Help: "Calls to the OCR inference service labelled by outcome",
}, []string{"outcome"})

var dependencyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ocrflow_dependency_latency_seconds",
	Help:    "Latency of external service calls.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
}, []string{"service"})

// DependencyCallsTotal 外部依赖调用次数，按服务和结果区分
var DependencyCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ocrflow_dependency_calls_total",
	Help: "Calls to external dependencies labelled by service and outcome",
}, []string{"service", "outcome"})

var batchFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ocrflow_batch_files_total",
	Help: "Files processed by the batch pipeline labelled by result",
}, []string{"result"})

var batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ocrflow_batch_duration_seconds",
	Help:    "Time spent processing one upload batch.",
	Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
})

var ocrInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ocrflow_ocr_in_flight",
	Help: "OCR calls currently holding a permit",
})

// ObserveOCRCall 记录一次OCR调用
func ObserveOCRCall(outcome string, elapsed time.Duration) {
	ocrRequestsTotal.WithLabelValues(outcome).Inc()
	dependencyLatency.WithLabelValues("ocr").Observe(elapsed.Seconds())
}

// ObserveDependency 记录外部依赖的一次调用和耗时
func ObserveDependency(service string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	DependencyCallsTotal.WithLabelValues(service, outcome).Inc()
	dependencyLatency.WithLabelValues(service).Observe(elapsed.Seconds())
}

// ObserveBatch 记录一次批处理
func ObserveBatch(succeeded, failed int, elapsed time.Duration) {
	batchFilesTotal.WithLabelValues("success").Add(float64(succeeded))
	batchFilesTotal.WithLabelValues("error").Add(float64(failed))
	batchDuration.Observe(elapsed.Seconds())
}

func IncOCRInFlight() { ocrInFlight.Inc() }

func DecOCRInFlight() { ocrInFlight.Dec() }
