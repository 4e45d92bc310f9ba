package service

import (
	"io"
	"log/slog"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dushixiang/pika-edge/pkg/agent"
	"github.com/dushixiang/pika-edge/pkg/agent/config"
	"github.com/dushixiang/pika-edge/pkg/agent/metrics"
	"github.com/dushixiang/pika-edge/pkg/agent/store"
)

var providerSet = wire.NewSet(
	ProvideLogWriter,
	ProvideLogger,
	ProvideAccessLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideStore,
	NewAgent,
)

// ProvideLogWriter 日志输出目标
func ProvideLogWriter(cfg *config.Config) io.Writer {
	lc := &agent.LogConfig{
		Level:      cfg.Agent.LogLevel,
		File:       cfg.Agent.LogFile,
		MaxSize:    cfg.Agent.LogMaxSize,
		MaxBackups: cfg.Agent.LogMaxBackups,
		MaxAge:     cfg.Agent.LogMaxAge,
		Compress:   cfg.Agent.LogCompress,
	}
	return lc.Writer()
}

// ProvideLogger 探针日志
func ProvideLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return agent.NewLogger(w, cfg.Agent.LogLevel)
}

// ProvideAccessLogger 管理接口访问日志
func ProvideAccessLogger(cfg *config.Config, w io.Writer) *zap.Logger {
	return agent.NewAccessLogger(w, cfg.Agent.LogLevel)
}

// ProvideRegistry 指标注册表
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics 采集管道指标
func ProvideMetrics(reg *prometheus.Registry) *metrics.Pipeline {
	return metrics.NewPipeline(reg)
}

// ProvideStore 本地状态存储
func ProvideStore(cfg *config.Config, logger *slog.Logger) (*store.Store, func(), error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warn("关闭状态文件失败", "error", err)
		}
	}
	return st, cleanup, nil
}
