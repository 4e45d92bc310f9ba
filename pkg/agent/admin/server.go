package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dushixiang/pika-edge/pkg/agent/store"
	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

// Status 探针运行状态
type Status struct {
	AgentID   string                   `json:"agentId"`
	AgentName string                   `json:"agentName"`
	Version   string                   `json:"version"`
	Transport string                   `json:"transport"`
	Sensors   []telemetry.SensorStatus `json:"sensors"`
	Pending   int                      `json:"pending"`
	Stats     store.Stats              `json:"stats"`
}

// StatusSource 状态来源
type StatusSource interface {
	Status() (Status, error)
}

// Server 本地管理接口
type Server struct {
	echo   *echo.Echo
	listen string
	logger *zap.Logger
	source StatusSource
}

// NewServer 创建管理接口
func NewServer(listen string, source StatusSource, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		listen: listen,
		logger: logger,
		source: source,
	}
	e.Use(s.accessLog)

	e.GET("/healthz", s.Health)
	e.GET("/status", s.Status)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return s
}

// Handler 返回 http.Handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start 监听端口并在后台提供服务，返回实际监听地址
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return "", fmt.Errorf("监听管理端口失败: %w", err)
	}
	s.echo.Listener = ln
	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("管理接口异常退出", zap.Error(err))
		}
	}()
	s.logger.Info("管理接口已启动", zap.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Health 健康检查
// GET /healthz
func (s *Server) Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Status 运行状态
// GET /status
func (s *Server) Status(c echo.Context) error {
	status, err := s.source.Status()
	if err != nil {
		s.logger.Error("获取运行状态失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "获取运行状态失败",
		})
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Debug("admin request",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Int("status", c.Response().Status),
			zap.Duration("took", time.Since(start)),
		)
		return nil
	}
}
