package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dushixiang/pika-edge/pkg/agent/admin"
	"github.com/dushixiang/pika-edge/pkg/agent/config"
	"github.com/dushixiang/pika-edge/pkg/agent/gateway"
	"github.com/dushixiang/pika-edge/pkg/agent/metrics"
	"github.com/dushixiang/pika-edge/pkg/agent/sensor"
	"github.com/dushixiang/pika-edge/pkg/agent/store"
	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
	"github.com/dushixiang/pika-edge/pkg/agent/updater"
)

const stopTimeout = 30 * time.Second

// Agent 探针：采集管道、管理接口、配置热加载与自动更新
type Agent struct {
	logger       *slog.Logger
	accessLogger *zap.Logger
	registry     *prometheus.Registry
	metrics      *metrics.Pipeline
	store        *store.Store
	agentID      string
	fs           afero.Fs

	mu       sync.Mutex
	cfg      *config.Config
	pipeline *telemetry.Orchestrator
	closer   io.Closer
	admin    *admin.Server
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewAgent 创建探针
func NewAgent(cfg *config.Config, logger *slog.Logger, accessLogger *zap.Logger, registry *prometheus.Registry,
	pipeline *metrics.Pipeline, st *store.Store) (*Agent, error) {
	agentID, err := st.AgentID()
	if err != nil {
		return nil, err
	}
	return &Agent{
		logger:       logger,
		accessLogger: accessLogger,
		registry:     registry,
		metrics:      pipeline,
		store:        st,
		agentID:      agentID,
		fs:           afero.NewOsFs(),
		cfg:          cfg,
	}, nil
}

// ID 探针 ID
func (a *Agent) ID() string {
	return a.agentID
}

// Start 启动探针；采集管道在返回前已经运行
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return telemetry.ErrAlreadyStarted
	}

	a.logger.Info("探针启动中", "agent_id", a.agentID, "name", a.cfg.Agent.Name, "version", GetVersion(),
		"endpoint", a.cfg.Server.Endpoint, "transport", a.cfg.Server.Transport)

	if err := a.startPipeline(a.cfg); err != nil {
		return err
	}

	if a.cfg.Admin.Enabled {
		srv := admin.NewServer(a.cfg.Admin.Listen, a, a.registry, a.accessLogger)
		if _, err := srv.Start(); err != nil {
			a.logger.Warn("管理接口启动失败", "error", err)
		} else {
			a.admin = srv
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.cfg.Path != "" {
		watcher := config.NewWatcher(a.cfg.Path, a.logger, func() {
			if err := a.Reload(); err != nil {
				a.logger.Error("重新加载配置失败", "error", err)
			}
		})
		a.goRun(func() {
			if err := watcher.Run(ctx); err != nil {
				a.logger.Warn("配置文件监听已退出", "error", err)
			}
		})
	}

	if a.cfg.AutoUpdate.Enabled {
		upd, err := updater.New(a.cfg, GetVersion(), a.logger, a.flushBeforeExit)
		if err != nil {
			a.logger.Warn("创建更新器失败", "error", err)
		} else {
			a.goRun(func() { upd.Start(ctx) })
		}
	}
	return nil
}

func (a *Agent) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// startPipeline 调用方需持有 a.mu
func (a *Agent) startPipeline(cfg *config.Config) error {
	platform, closer := a.buildGateway(cfg)
	pipeline := telemetry.NewOrchestrator(telemetry.OrchestratorOptions{
		Discovery: sensor.NewDiscovery(cfg, a.fs, a.logger),
		Config:    cfg,
		Gateway:   platform,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	if err := pipeline.Start(); err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return fmt.Errorf("启动采集管道失败: %w", err)
	}
	a.pipeline = pipeline
	a.closer = closer
	return nil
}

// stopPipeline 调用方需持有 a.mu
func (a *Agent) stopPipeline() error {
	if a.pipeline == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	err := a.pipeline.Stop(ctx)
	if a.closer != nil {
		if cerr := a.closer.Close(); cerr != nil {
			a.logger.Debug("关闭平台连接失败", "error", cerr)
		}
	}
	a.pipeline = nil
	a.closer = nil
	return err
}

func (a *Agent) buildGateway(cfg *config.Config) (telemetry.PlatformGateway, io.Closer) {
	opts := gateway.HTTPOptions{
		Endpoint:           cfg.Server.Endpoint,
		APIKey:             cfg.Server.APIKey,
		AgentID:            a.agentID,
		Timeout:            cfg.GetServerTimeout(),
		InsecureSkipVerify: cfg.Server.InsecureSkipVerify,
	}

	var (
		platform telemetry.PlatformGateway
		closer   io.Closer
	)
	if cfg.Server.Transport == "websocket" {
		ws := gateway.NewWebSocketGateway(opts, a.logger)
		platform, closer = ws, ws
	} else {
		platform = gateway.NewHTTPGateway(opts)
	}
	platform = store.NewGatewayRecorder(platform, a.store, a.logger)

	var notifiers []telemetry.AlarmSink
	if cfg.Notify.Enabled {
		notifiers = append(notifiers, gateway.NewMailNotifier(gateway.MailOptions{
			Host:     cfg.Notify.Host,
			Port:     cfg.Notify.Port,
			Username: cfg.Notify.Username,
			Password: cfg.Notify.Password,
			From:     cfg.Notify.From,
			To:       cfg.Notify.To,
		}, cfg.Agent.Name))
	}
	return gateway.NewAlarmFanout(platform, a.logger, notifiers...), closer
}

// Reload 重新读取配置文件并重建采集管道；新配置无效时保持当前管道运行
func (a *Agent) Reload() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel == nil {
		return nil
	}

	next, err := config.Load(a.cfg.Path)
	if err != nil {
		return err
	}

	a.logger.Info("配置已变化，重建采集管道", "sensors", len(next.Sensors))
	if err := a.stopPipeline(); err != nil {
		// 旧管道未能在超时内停止，继续启动新管道
		a.logger.Warn("停止旧采集管道失败", "error", err)
	}
	if err := a.startPipeline(next); err != nil {
		if rerr := a.startPipeline(a.cfg); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	a.cfg = next
	return nil
}

// Stop 按启动的逆序停止：后台任务、管理接口、采集管道
func (a *Agent) Stop() error {
	a.mu.Lock()
	if a.cancel == nil {
		a.mu.Unlock()
		return nil
	}
	a.cancel()
	a.cancel = nil
	srv := a.admin
	a.admin = nil
	a.mu.Unlock()

	// 不持有锁等待，避免与正在进行的 Reload 和 /status 请求互相等待
	a.wg.Wait()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("关闭管理接口失败", "error", err)
		}
		cancel()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.stopPipeline()
	a.logger.Info("探针已停止")
	return err
}

// flushBeforeExit 自动更新退出进程前停止采集管道，未发送的数据在停止时最后上报一次。
// 运行在更新器的 goroutine 上，不能等待 a.wg
func (a *Agent) flushBeforeExit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.stopPipeline(); err != nil {
		a.logger.Warn("更新前停止采集管道失败", "error", err)
		return
	}
	a.logger.Info("更新前已停止采集管道")
}

// Status 实现 admin.StatusSource
func (a *Agent) Status() (admin.Status, error) {
	a.mu.Lock()
	cfg := a.cfg
	pipeline := a.pipeline
	a.mu.Unlock()

	stats, err := a.store.Stats()
	if err != nil {
		return admin.Status{}, err
	}
	status := admin.Status{
		AgentID:   a.agentID,
		AgentName: cfg.Agent.Name,
		Version:   GetVersion(),
		Transport: cfg.Server.Transport,
		Stats:     stats,
	}
	if pipeline != nil {
		status.Sensors = pipeline.Sensors()
		status.Pending = pipeline.Pending()
	}
	return status, nil
}
