package updater

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/minio/selfupdate"
	"github.com/robfig/cron/v3"

	"github.com/dushixiang/pika-edge/pkg/agent/config"
)

// VersionInfo 版本信息
type VersionInfo struct {
	Version string `json:"version"`
}

// Updater 自动更新器
type Updater struct {
	cfg        *config.Config
	currentVer string
	schedule   cron.Schedule
	client     *resty.Client
	logger     *slog.Logger

	beforeExit func()
	apply      func(r io.Reader) error
	exit       func(code int)
}

// New 创建更新器，beforeExit 在更新完成、进程退出前调用，用于停止采集并发送剩余数据
func New(cfg *config.Config, currentVer string, logger *slog.Logger, beforeExit func()) (*Updater, error) {
	schedule, err := cron.ParseStandard(cfg.AutoUpdate.Schedule)
	if err != nil {
		return nil, fmt.Errorf("解析更新检查周期失败: %w", err)
	}

	client := resty.New().SetTimeout(60 * time.Second)
	if cfg.Server.InsecureSkipVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	return &Updater{
		cfg:        cfg,
		currentVer: currentVer,
		schedule:   schedule,
		client:     client,
		logger:     logger,
		beforeExit: beforeExit,
		apply: func(r io.Reader) error {
			return selfupdate.Apply(r, selfupdate.Options{})
		},
		exit: os.Exit,
	}, nil
}

// Start 启动自动更新检查，阻塞直到 ctx 结束
func (u *Updater) Start(ctx context.Context) {
	if !u.cfg.AutoUpdate.Enabled {
		u.logger.Info("自动更新已禁用")
		return
	}

	u.logger.Info("自动更新已启用", "schedule", u.cfg.AutoUpdate.Schedule)

	c := cron.New()
	c.Schedule(u.schedule, cron.FuncJob(func() { u.CheckAndUpdate(ctx) }))
	c.Start()

	// 立即检查一次
	u.CheckAndUpdate(ctx)

	<-ctx.Done()
	<-c.Stop().Done()
	u.logger.Info("停止自动更新检查")
}

// CheckAndUpdate 检查并更新，返回是否已应用新版本
func (u *Updater) CheckAndUpdate(ctx context.Context) bool {
	u.logger.Debug("检查更新...")

	versionInfo, err := u.fetchLatestVersion(ctx)
	if err != nil {
		u.logger.Warn("获取版本信息失败", "error", err)
		return false
	}

	if versionInfo.Version == "" || versionInfo.Version == u.currentVer {
		u.logger.Debug("当前已是最新版本", "version", u.currentVer)
		return false
	}

	u.logger.Info("发现新版本", "new_version", versionInfo.Version, "current_version", u.currentVer)

	if err := u.downloadAndUpdate(ctx, versionInfo); err != nil {
		u.logger.Error("更新失败", "error", err)
		return false
	}

	u.logger.Info("更新成功，进程即将退出，等待系统服务重启...")
	if u.beforeExit != nil {
		u.beforeExit()
	}
	// 依赖服务管理器的自动重启（systemd Restart=always）
	u.exit(1)
	return true
}

func (u *Updater) fetchLatestVersion(ctx context.Context) (*VersionInfo, error) {
	var versionInfo VersionInfo
	resp, err := u.client.R().
		SetContext(ctx).
		SetResult(&versionInfo).
		Get(u.cfg.GetLatestVersionURL())
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("HTTP 状态码: %d", resp.StatusCode())
	}
	return &versionInfo, nil
}

func (u *Updater) downloadAndUpdate(ctx context.Context, versionInfo *VersionInfo) error {
	u.logger.Info("下载新版本", "version", versionInfo.Version)

	resp, err := u.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u.cfg.GetDownloadURL())
	if err != nil {
		return fmt.Errorf("下载失败: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if !resp.IsSuccess() {
		return fmt.Errorf("HTTP 状态码: %d", resp.StatusCode())
	}

	if err := u.apply(body); err != nil {
		return fmt.Errorf("应用更新失败: %w", err)
	}
	return nil
}
