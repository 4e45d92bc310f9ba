package sensor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

// FileSampler 从文件读取数值，适用于 sysfs 之类的一行一值文件
type FileSampler struct {
	fs    afero.Fs
	path  string
	scale float64
	typ   string
	unit  string
}

// NewFileSampler 创建文件采集器，读到的值乘以 scale
func NewFileSampler(fs afero.Fs, path string, scale float64, typ, unit string) *FileSampler {
	if scale == 0 {
		scale = 1
	}
	return &FileSampler{
		fs:    fs,
		path:  path,
		scale: scale,
		typ:   typ,
		unit:  unit,
	}
}

// Sample 读取一次文件；文件为空视为无数据
func (f *FileSampler) Sample(_ context.Context) (*telemetry.Measurement, error) {
	raw, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, nil
	}
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		text = text[:i]
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("解析文件内容失败 %s: %w", f.path, err)
	}
	m := telemetry.NewMeasurement(f.typ, float32(v*f.scale), f.unit)
	return &m, nil
}
