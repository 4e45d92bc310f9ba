package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

// DefaultPath 默认配置文件路径
const DefaultPath = "/etc/pika-edge/agent.yaml"

const (
	// DefaultSampleIntervalSeconds 未填写 sampleIntervalSeconds 时的采样间隔
	DefaultSampleIntervalSeconds = 10
	// DefaultSendIntervalSeconds 未填写 sendIntervalSeconds 时的上报间隔
	DefaultSendIntervalSeconds = 10
)

// Config 探针配置
type Config struct {
	Path string `yaml:"-"`

	Agent      AgentConfig               `yaml:"agent"`
	Server     ServerConfig              `yaml:"server"`
	Delivery   *telemetry.DeliveryConfig `yaml:"delivery"`
	Sensors    []SensorConfig            `yaml:"sensors" validate:"dive"`
	Admin      AdminConfig               `yaml:"admin"`
	Notify     NotifyConfig              `yaml:"notify"`
	AutoUpdate AutoUpdateConfig          `yaml:"autoUpdate"`
	Store      StoreConfig               `yaml:"store"`
}

// AgentConfig 探针自身配置
type AgentConfig struct {
	Name          string `yaml:"name"`
	LogLevel      string `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	LogFile       string `yaml:"logFile"`
	LogMaxSize    int    `yaml:"logMaxSize" validate:"gte=0"`    // MB
	LogMaxBackups int    `yaml:"logMaxBackups" validate:"gte=0"` // 保留的旧日志文件数
	LogMaxAge     int    `yaml:"logMaxAge" validate:"gte=0"`     // 天数
	LogCompress   bool   `yaml:"logCompress"`
}

// ServerConfig 平台连接配置
type ServerConfig struct {
	Endpoint           string `yaml:"endpoint" validate:"required,url"`
	APIKey             string `yaml:"apiKey"`
	Transport          string `yaml:"transport" validate:"oneof=http websocket"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	TimeoutSeconds     int    `yaml:"timeoutSeconds" validate:"gte=0"`
}

// SensorConfig 单个传感器配置，采样间隔与告警规则内联
type SensorConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Kind    string `yaml:"kind" validate:"required,oneof=host file probe simulated"`
	Type    string `yaml:"type"` // 测量类型，为空时使用 name
	Unit    string `yaml:"unit"`
	Enabled *bool  `yaml:"enabled"`

	telemetry.SensorConfig `yaml:",inline"`

	// host
	Metric string `yaml:"metric" validate:"omitempty,oneof=cpu memory load1 temperature"`
	Key    string `yaml:"key"`
	// file
	Path  string  `yaml:"path"`
	Scale float64 `yaml:"scale"`
	// probe
	Protocol       string `yaml:"protocol" validate:"omitempty,oneof=icmp tcp http"`
	Target         string `yaml:"target"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" validate:"gte=0"`
	// simulated
	Values []float32 `yaml:"values"`
}

// IsEnabled 未配置 enabled 时视为启用
func (s *SensorConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// MeasurementType 测量类型
func (s *SensorConfig) MeasurementType() string {
	if s.Type != "" {
		return s.Type
	}
	return s.Name
}

// AdminConfig 本地管理接口配置
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// NotifyConfig 告警邮件通知配置
type NotifyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host" validate:"required_if=Enabled true"`
	Port     int      `yaml:"port" validate:"gte=0,lte=65535"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from" validate:"omitempty,email"`
	To       []string `yaml:"to" validate:"required_if=Enabled true,dive,email"`
}

// AutoUpdateConfig 自动更新配置
type AutoUpdateConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron 表达式，默认 @every 1h
}

// StoreConfig 本地状态存储配置
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Load 加载并校验配置文件
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// Parse 解析并校验 YAML 配置
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	var present intervalPresence
	if err := yaml.Unmarshal(raw, &present); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.applyDefaults(present)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// intervalPresence 记录间隔字段是否出现在 YAML 中，用于区分未填写与显式的 0
type intervalPresence struct {
	Delivery *struct {
		SendIntervalSeconds *int `yaml:"sendIntervalSeconds"`
	} `yaml:"delivery"`
	Sensors []struct {
		SampleIntervalSeconds *int `yaml:"sampleIntervalSeconds"`
	} `yaml:"sensors"`
}

func (c *Config) applyDefaults(present intervalPresence) {
	if c.Agent.Name == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Agent.Name = hostname
		}
	}
	if c.Agent.LogLevel == "" {
		c.Agent.LogLevel = "info"
	}
	if c.Agent.LogMaxSize == 0 {
		c.Agent.LogMaxSize = 10
	}
	if c.Agent.LogMaxBackups == 0 {
		c.Agent.LogMaxBackups = 3
	}
	if c.Agent.LogMaxAge == 0 {
		c.Agent.LogMaxAge = 7
	}
	if c.Server.Transport == "" {
		c.Server.Transport = "http"
	}
	if c.Server.TimeoutSeconds == 0 {
		c.Server.TimeoutSeconds = 30
	}
	c.Server.Endpoint = strings.TrimRight(c.Server.Endpoint, "/")
	if c.Delivery == nil {
		c.Delivery = &telemetry.DeliveryConfig{}
	}
	if present.Delivery == nil || present.Delivery.SendIntervalSeconds == nil {
		c.Delivery.SendIntervalSeconds = DefaultSendIntervalSeconds
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = "127.0.0.1:9465"
	}
	if c.Notify.Port == 0 {
		c.Notify.Port = 587
	}
	if c.AutoUpdate.Schedule == "" {
		c.AutoUpdate.Schedule = "@every 1h"
	}
	if c.Store.Path == "" {
		c.Store.Path = "/var/lib/pika-edge/agent.db"
	}
	for i := range c.Sensors {
		if i >= len(present.Sensors) || present.Sensors[i].SampleIntervalSeconds == nil {
			c.Sensors[i].SampleIntervalSeconds = DefaultSampleIntervalSeconds
		}
		if c.Sensors[i].Kind == "file" && c.Sensors[i].Scale == 0 {
			c.Sensors[i].Scale = 1
		}
	}
}

var validate = validator.New()

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	names := make(map[string]struct{}, len(c.Sensors))
	for _, s := range c.Sensors {
		if _, ok := names[s.Name]; ok {
			return fmt.Errorf("配置校验失败: 传感器名称重复: %s", s.Name)
		}
		names[s.Name] = struct{}{}

		switch s.Kind {
		case "host":
			if s.Metric == "" {
				return fmt.Errorf("配置校验失败: 传感器 %s 缺少 metric", s.Name)
			}
		case "file":
			if s.Path == "" {
				return fmt.Errorf("配置校验失败: 传感器 %s 缺少 path", s.Name)
			}
		case "probe":
			if s.Protocol == "" || s.Target == "" {
				return fmt.Errorf("配置校验失败: 传感器 %s 缺少 protocol 或 target", s.Name)
			}
		case "simulated":
			if len(s.Values) == 0 {
				return fmt.Errorf("配置校验失败: 传感器 %s 缺少 values", s.Name)
			}
		}
	}
	return nil
}

// FindSensor 按名称查找传感器配置
func (c *Config) FindSensor(name string) (*SensorConfig, bool) {
	for i := range c.Sensors {
		if c.Sensors[i].Name == name {
			return &c.Sensors[i], true
		}
	}
	return nil, false
}

// SensorConfig 实现 telemetry.ConfigurationProvider
func (c *Config) SensorConfig(name string) (*telemetry.SensorConfig, error) {
	s, ok := c.FindSensor(name)
	if !ok {
		return nil, fmt.Errorf("%w: sensor %s", telemetry.ErrConfigurationMissing, name)
	}
	return &s.SensorConfig, nil
}

// DeliveryConfig 实现 telemetry.ConfigurationProvider
func (c *Config) DeliveryConfig() (*telemetry.DeliveryConfig, error) {
	if c.Delivery == nil {
		return nil, fmt.Errorf("%w: delivery", telemetry.ErrConfigurationMissing)
	}
	return c.Delivery, nil
}

// GetServerTimeout 平台请求超时
func (c *Config) GetServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// GetSendInterval 上报间隔
func (c *Config) GetSendInterval() time.Duration {
	if c.Delivery == nil {
		return 0
	}
	return c.Delivery.SendInterval()
}

// GetLatestVersionURL 最新版本查询地址
func (c *Config) GetLatestVersionURL() string {
	return c.Server.Endpoint + "/api/agent/version"
}

// GetDownloadURL 当前平台的安装包下载地址
func (c *Config) GetDownloadURL() string {
	return fmt.Sprintf("%s/api/agent/downloads/pika-edge-%s-%s", c.Server.Endpoint, runtime.GOOS, runtime.GOARCH)
}

// IsValidationError 是否为字段校验错误
func IsValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
