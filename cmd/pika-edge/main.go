package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dushixiang/pika-edge/pkg/agent/config"
	"github.com/dushixiang/pika-edge/pkg/agent/service"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pika-edge",
		Short:         "Pika 边缘探针",
		Long:          "Pika 边缘探针：按配置采集传感器数据，评估告警阈值并批量上报到平台。",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "配置文件路径")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "前台运行探针（或由系统服务调用）",
			RunE: withManager(func(m *service.ServiceManager) error {
				return m.Run()
			}),
		},
		&cobra.Command{
			Use:   "install",
			Short: "安装为系统服务",
			RunE: withManager(func(m *service.ServiceManager) error {
				if err := m.Install(); err != nil {
					return fmt.Errorf("安装服务失败: %w", err)
				}
				fmt.Println("服务安装成功")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "卸载系统服务并删除配置与本地状态",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := service.UninstallAgent(configPath); err != nil {
					return err
				}
				fmt.Println("服务卸载成功")
				return nil
			},
		},
		&cobra.Command{
			Use:   "start",
			Short: "启动系统服务",
			RunE: withManager(func(m *service.ServiceManager) error {
				return m.Start()
			}),
		},
		&cobra.Command{
			Use:   "stop",
			Short: "停止系统服务",
			RunE: withManager(func(m *service.ServiceManager) error {
				return m.Stop()
			}),
		},
		&cobra.Command{
			Use:   "restart",
			Short: "重启系统服务",
			RunE: withManager(func(m *service.ServiceManager) error {
				return m.Restart()
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "查看系统服务状态",
			RunE: withManager(func(m *service.ServiceManager) error {
				status, err := m.Status()
				if err != nil {
					return fmt.Errorf("获取服务状态失败: %w", err)
				}
				fmt.Println(status)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "显示版本信息",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "pika-edge %s (%s/%s)\n", service.GetVersion(), runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return root
}

// withManager 加载配置并创建服务管理器
func withManager(fn func(m *service.ServiceManager) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		mgr, err := service.NewServiceManager(cfg)
		if err != nil {
			return err
		}
		return fn(mgr)
	}
}
