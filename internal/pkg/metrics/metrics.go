package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 全局指标。调用 InitMetrics 之后才可使用。
var (
	HTTPRequestDuration *prometheus.HistogramVec

	GeocodeLookupTotal   prometheus.Counter
	GeocodeCacheHitTotal prometheus.Counter
	GeocodeFailureTotal  prometheus.Counter

	LLMRequestTotal *prometheus.CounterVec

	EventJoinTotal *prometheus.CounterVec

	RateLimitWaitDuration prometheus.Histogram
	RateLimitTimeoutTotal prometheus.Counter
)

var initOnce sync.Once

// InitMetrics 注册所有 Prometheus 指标。
//
// 幂等：测试中可以被多次调用。
func InitMetrics() {
	initOnce.Do(func() {
		HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cleanwave",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时分布",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		GeocodeLookupTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cleanwave",
			Name:      "geocode_lookup_total",
			Help:      "实际发起的地理编码外呼次数",
		})
		GeocodeCacheHitTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cleanwave",
			Name:      "geocode_cache_hit_total",
			Help:      "地理编码缓存命中次数",
		})
		GeocodeFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cleanwave",
			Name:      "geocode_failure_total",
			Help:      "地理编码失败（降级为无坐标）次数",
		})

		LLMRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cleanwave",
			Name:      "llm_request_total",
			Help:      "文本生成请求次数",
		}, []string{"provider", "outcome"})

		EventJoinTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cleanwave",
			Name:      "event_join_total",
			Help:      "活动报名尝试次数（按结果区分）",
		}, []string{"outcome"})

		RateLimitWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cleanwave",
			Name:      "ratelimit_wait_duration_seconds",
			Help:      "限流等待耗时分布",
			Buckets:   prometheus.DefBuckets,
		})
		RateLimitTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cleanwave",
			Name:      "ratelimit_timeout_total",
			Help:      "限流等待超时次数",
		})

		prometheus.MustRegister(
			HTTPRequestDuration,
			GeocodeLookupTotal,
			GeocodeCacheHitTotal,
			GeocodeFailureTotal,
			LLMRequestTotal,
			EventJoinTotal,
			RateLimitWaitDuration,
			RateLimitTimeoutTotal,
		)
	})
}
