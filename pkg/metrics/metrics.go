package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 CLI/查询服务注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TierWriteDuration, CheckpointTotal, IntegrityFailures,
		ResurrectionTotal, LiveAgents,
	)
}

// TierWriteDuration 单个存储层写入耗时（秒）
var TierWriteDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "arp_checkpoint_save_duration_seconds",
		Help:    "检查点写入单个存储层的耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tier"}, // hot | cold
)

// CheckpointTotal 检查点操作总数（按操作与结果）
var CheckpointTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "arp_checkpoint_total",
		Help: "检查点保存/加载次数",
	},
	[]string{"op", "status"}, // op: save | load；status: ok | error | not_found
)

// IntegrityFailures 加载时 state_hash 校验失败次数
var IntegrityFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "arp_integrity_failures_total",
		Help: "state_hash 校验失败次数",
	},
)

// ResurrectionTotal 复活次数（按结果）
var ResurrectionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "arp_resurrections_total",
		Help: "Agent 复活次数",
	},
	[]string{"status"}, // ok | not_found | error
)

// LiveAgents 当前进程内处于 Active 的 Agent 数
var LiveAgents = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "arp_live_agents",
		Help: "当前进程内活跃的 Agent 数",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
