package gateway

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

// MailOptions SMTP 配置
type MailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// MailNotifier 以邮件形式发送告警
type MailNotifier struct {
	opts  MailOptions
	agent string
	send  func(msgs ...*gomail.Message) error
}

// NewMailNotifier 创建邮件通知器
func NewMailNotifier(opts MailOptions, agentName string) *MailNotifier {
	dialer := gomail.NewDialer(opts.Host, opts.Port, opts.Username, opts.Password)
	if opts.From == "" {
		opts.From = opts.Username
	}
	return &MailNotifier{
		opts:  opts,
		agent: agentName,
		send:  dialer.DialAndSend,
	}
}

// CreateAlarm 实现 telemetry.AlarmSink
func (n *MailNotifier) CreateAlarm(ctx context.Context, alarm telemetry.Alarm) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.send(n.buildMessage(alarm)); err != nil {
		return fmt.Errorf("发送告警邮件失败: %w", err)
	}
	return nil
}

func (n *MailNotifier) buildMessage(alarm telemetry.Alarm) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", n.opts.From)
	m.SetHeader("To", n.opts.To...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] %s - %s", alarm.Severity, n.agent, alarm.Type))

	var body strings.Builder
	fmt.Fprintf(&body, "探针: %s\n", n.agent)
	fmt.Fprintf(&body, "传感器: %s\n", alarm.Source)
	fmt.Fprintf(&body, "级别: %s\n", alarm.Severity)
	fmt.Fprintf(&body, "时间: %s\n", alarm.Time.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&body, "\n%s\n", alarm.Text)
	m.SetBody("text/plain", body.String())
	return m
}
