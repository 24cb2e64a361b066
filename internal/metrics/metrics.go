package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsync"

var (
	// PollFetches 轮询拉取次数，result = ok|error|skipped|discarded
	PollFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_fetches_total",
			Help:      "Poll ticks by outcome.",
		},
		[]string{"result"},
	)

	// UploadTransfers 单文件传输次数，result = ok|error
	UploadTransfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_transfers_total",
			Help:      "Per-file attachment transfers by outcome.",
		},
		[]string{"result"},
	)

	// MessagesSent 发送结果，result = ok|error|rejected
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Send attempts by outcome.",
		},
		[]string{"result"},
	)

	// Notifications 已发出的新消息通知
	Notifications = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "New-message notifications emitted.",
		},
	)

	// HTTPRequests API 请求数
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status class.",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(PollFetches, UploadTransfers, MessagesSent, Notifications, HTTPRequests)
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
