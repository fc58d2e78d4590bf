package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RunDuration, HuntTotal, BreaksTotal,
		JudgeVerdictTotal, LLMCallDuration,
		RunTotal, WorkerBusy, EventsPublished,
	)
}

// RunDuration 一次完整 Run（窗口内全部 hunt）耗时（秒）
var RunDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "hunt_run_duration_seconds",
		Help:    "一次完整 Run 耗时（秒）",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	},
)

// HuntTotal hunt 总数（按状态）
var HuntTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hunt_attempt_total",
		Help: "hunt 总数（按状态）",
	},
	[]string{"status"}, // completed | failed
)

// BreaksTotal 判定为 breaking 的响应总数
var BreaksTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "hunt_breaks_total",
		Help: "判定为 breaking 的响应总数",
	},
)

// JudgeVerdictTotal 评审 criterion 结论总数（按结论）
var JudgeVerdictTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hunt_judge_verdict_total",
		Help: "评审 criterion 结论总数",
	},
	[]string{"verdict"}, // PASS | FAIL | MISSING
)

// LLMCallDuration LLM 调用耗时（秒，按 provider）
var LLMCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "hunt_llm_call_duration_seconds",
		Help:    "LLM 调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider"},
)

// RunTotal Run 总数（按终态）
var RunTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hunt_run_total",
		Help: "Run 总数（按终态）",
	},
	[]string{"status"}, // completed | failed
)

// WorkerBusy 当前正在执行的 Run 数（每 Worker）
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "hunt_worker_busy",
		Help: "当前正在执行的 Run 数",
	},
	[]string{"worker_id"},
)

// EventsPublished 事件总线发布总数（按事件类型）
var EventsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hunt_events_published_total",
		Help: "事件总线发布总数",
	},
	[]string{"event_type"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
