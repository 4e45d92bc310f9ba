package sensor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

const defaultProbeTimeout = 5 * time.Second

// ProbeSampler 网络探测采集器，测量值为往返耗时（毫秒）
type ProbeSampler struct {
	protocol string
	target   string
	timeout  time.Duration
	typ      string

	httpClient *http.Client
}

// NewProbeSampler 创建网络探测采集器
func NewProbeSampler(protocol, target string, timeout time.Duration, typ string) *ProbeSampler {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // 允许自签名证书
			},
			DisableKeepAlives: true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}
	return &ProbeSampler{
		protocol:   strings.ToLower(protocol),
		target:     target,
		timeout:    timeout,
		typ:        typ,
		httpClient: httpClient,
	}
}

// Sample 执行一次探测
func (p *ProbeSampler) Sample(ctx context.Context) (*telemetry.Measurement, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var (
		rtt time.Duration
		err error
	)
	switch p.protocol {
	case "http", "https":
		rtt, err = p.checkHTTP(ctx)
	case "tcp":
		rtt, err = p.checkTCP(ctx)
	case "icmp", "ping":
		rtt, err = p.checkICMP(ctx)
	default:
		return nil, fmt.Errorf("unsupported probe protocol: %s", p.protocol)
	}
	if err != nil {
		return nil, err
	}
	m := telemetry.NewMeasurement(p.typ, float32(rtt.Microseconds())/1000, "ms")
	return &m, nil
}

// checkHTTP 2xx/3xx 视为成功
func (p *ProbeSampler) checkHTTP(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request failed: %w", err)
	}

	startTime := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	rtt := time.Since(startTime)

	if resp.StatusCode >= http.StatusBadRequest {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return rtt, nil
}

func (p *ProbeSampler) checkTCP(ctx context.Context) (time.Duration, error) {
	var dialer net.Dialer
	startTime := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", p.target)
	if err != nil {
		return 0, fmt.Errorf("connection failed: %w", err)
	}
	rtt := time.Since(startTime)
	_ = conn.Close()
	return rtt, nil
}

func (p *ProbeSampler) checkICMP(ctx context.Context) (time.Duration, error) {
	pinger, err := probing.NewPinger(p.target)
	if err != nil {
		return 0, fmt.Errorf("create pinger failed: %w", err)
	}
	pinger.Count = 1
	pinger.Timeout = p.timeout

	// 先尝试非特权模式（UDP），失败后再用特权模式
	pinger.SetPrivileged(false)
	if err := pinger.RunWithContext(ctx); err != nil {
		pinger.SetPrivileged(true)
		if err := pinger.RunWithContext(ctx); err != nil {
			return 0, fmt.Errorf("ping failed: %w", err)
		}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("ping %s: 100%% packet loss", p.target)
	}
	return stats.AvgRtt, nil
}
