package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kardianos/service"

	"github.com/dushixiang/pika-edge/pkg/agent/config"
)

// program 实现 service.Interface
type program struct {
	cfg     *config.Config
	agent   *Agent
	cleanup func()
}

// startAgent 组装并启动探针
func startAgent(ctx context.Context, cfg *config.Config) (*Agent, func(), error) {
	agent, cleanup, err := InitializeAgent(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化探针失败: %w", err)
	}
	if err := agent.Start(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return agent, cleanup, nil
}

// Start 启动服务
func (p *program) Start(s service.Service) error {
	agent, cleanup, err := startAgent(context.Background(), p.cfg)
	if err != nil {
		return err
	}
	p.agent = agent
	p.cleanup = cleanup
	return nil
}

// Stop 停止服务
func (p *program) Stop(s service.Service) error {
	if p.agent == nil {
		return nil
	}
	err := p.agent.Stop()
	p.cleanup()
	p.agent = nil
	return err
}

// ServiceManager 服务管理器
type ServiceManager struct {
	cfg     *config.Config
	service service.Service
}

// NewServiceManager 创建服务管理器
func NewServiceManager(cfg *config.Config) (*ServiceManager, error) {
	// 获取可执行文件路径
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("获取可执行文件路径失败: %w", err)
	}

	svcConfig := &service.Config{
		Name:        "pika-edge",
		DisplayName: "Pika Edge Agent",
		Description: "Pika 边缘探针 - 采集传感器数据、评估告警并上报到平台",
		Arguments:   []string{"run", "--config", cfg.Path},
		Executable:  execPath,
		Option: service.KeyValue{
			// Linux systemd 配置
			"Restart":            "always",
			"RestartSec":         "10",
			"StartLimitInterval": "0",
			"KillMode":           "process",

			// Windows 配置
			"OnFailure":    "restart",
			"ResetPeriod":  86400,
			"RestartDelay": 10000,

			// 其他 Unix 系统 (upstart/launchd)
			"KeepAlive": true,
			"RunAtLoad": true,
		},
	}

	s, err := service.New(&program{cfg: cfg}, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("创建服务失败: %w", err)
	}

	return &ServiceManager{
		cfg:     cfg,
		service: s,
	}, nil
}

// Install 安装服务
func (m *ServiceManager) Install() error {
	return m.service.Install()
}

// Uninstall 卸载服务
func (m *ServiceManager) Uninstall() error {
	// 先停止服务
	_ = m.service.Stop()

	return m.service.Uninstall()
}

// Start 启动服务
func (m *ServiceManager) Start() error {
	return m.service.Start()
}

// Stop 停止服务
func (m *ServiceManager) Stop() error {
	return m.service.Stop()
}

// Restart 重启服务
func (m *ServiceManager) Restart() error {
	return m.service.Restart()
}

// Status 查看服务状态
func (m *ServiceManager) Status() (string, error) {
	status, err := m.service.Status()
	if err != nil {
		return "", err
	}
	return statusText(status), nil
}

func statusText(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "运行中 (Running)"
	case service.StatusStopped:
		return "已停止 (Stopped)"
	case service.StatusUnknown:
		return "未知 (Unknown)"
	default:
		return fmt.Sprintf("状态: %d", status)
	}
}

// Run 在服务管理器控制下运行，交互模式下前台运行直到收到中断信号
func (m *ServiceManager) Run() error {
	if !service.Interactive() {
		return m.service.Run()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent, cleanup, err := startAgent(ctx, m.cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	agent.logger.Info("收到中断信号，正在关闭...")

	return agent.Stop()
}

// UninstallAgent 停止并卸载服务，删除配置文件和本地状态
func UninstallAgent(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	mgr, err := NewServiceManager(cfg)
	if err != nil {
		return fmt.Errorf("创建服务管理器失败: %w", err)
	}

	status, err := mgr.service.Status()
	if err != nil {
		slog.Warn("获取服务状态失败", "error", err)
	} else if status == service.StatusRunning {
		if err := mgr.Stop(); err != nil {
			return fmt.Errorf("停止服务失败: %w", err)
		}
	}

	if err := mgr.Uninstall(); err != nil {
		return fmt.Errorf("卸载服务失败: %w", err)
	}

	if err := os.Remove(cfgPath); err != nil {
		slog.Warn("删除配置文件失败", "error", err)
	}
	if err := os.Remove(cfg.Store.Path); err != nil {
		slog.Warn("删除状态文件失败", "error", err)
	}
	return nil
}
