package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher 监听配置文件变化，合并短时间内的多次写入后回调
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func()
}

// NewWatcher 创建配置文件监听器
func NewWatcher(path string, logger *slog.Logger, onChange func()) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		logger:   logger,
		onChange: onChange,
	}
}

// Run 阻塞监听直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()

	// 监听目录而非文件本身，编辑器替换文件时不会丢失监听
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("监听配置目录失败: %w", err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.logger.Info("检测到配置文件变化", "path", w.path)
			w.onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("配置文件监听出错", "error", err)
		}
	}
}
