package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	streamMetricSubsystem   = "stream"
	registryMetricSubsystem = "registry"
)

var (
	StreamRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: objstreamNamespace,
			Subsystem: streamMetricSubsystem,
			Name:      "records_total",
			Help:      "按记录类型统计的读写记录数",
		}, []string{sideLabelName, kindLabelName})

	StreamBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: objstreamNamespace,
			Subsystem: streamMetricSubsystem,
			Name:      "top_level_bytes",
			Help:      "每次顶层 WriteObject/ReadObject 在底层读写的字节数",
			Buckets:   sizeBuckets,
		}, []string{sideLabelName})

	StreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: objstreamNamespace,
			Subsystem: streamMetricSubsystem,
			Name:      "errors_total",
			Help:      "按错误码统计的顶层读写失败次数",
		}, []string{sideLabelName, codeLabelName})

	StreamResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: objstreamNamespace,
			Subsystem: streamMetricSubsystem,
			Name:      "resets_total",
			Help:      "写出或读到的 TC_RESET 次数",
		}, []string{sideLabelName})

	ResolutionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: objstreamNamespace,
			Subsystem: registryMetricSubsystem,
			Name:      "resolution_failures_total",
			Help:      "流中类型描述符无法绑定到本地类型的次数",
		}, []string{reasonLabelName})

	DescriptorCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: objstreamNamespace,
			Subsystem: registryMetricSubsystem,
			Name:      "descriptor_cache_misses_total",
			Help:      "本地类型描述符缓存未命中（新建描述符）的次数",
		})
)
