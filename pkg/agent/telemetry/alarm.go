package telemetry

import (
	"io"
	"math"
	"strconv"

	"github.com/valyala/fasttemplate"
)

const valuePlaceholder = "<value"

// FiredAlarm 一条命中的告警规则及渲染后的文本
type FiredAlarm struct {
	Rule     AlarmThresholdRule
	Severity Severity
	Text     string
}

// Evaluate 计算测量值命中的告警规则，不返回错误
func Evaluate(m Measurement, rules []AlarmThresholdRule) []FiredAlarm {
	if len(rules) == 0 {
		return nil
	}
	value := float64(m.Value)
	if math.IsNaN(value) {
		return nil
	}

	var fired []FiredAlarm
	for _, rule := range rules {
		lower, upper, ok := rule.Bounds()
		if !ok {
			continue
		}
		if lower <= value && value <= upper {
			fired = append(fired, FiredAlarm{
				Rule:     rule,
				Severity: rule.Level(),
				Text:     RenderAlarmText(rule.Text, m),
			})
		}
	}
	return fired
}

// RenderAlarmText 将模板中的 <value> 替换为 "数值 单位"
func RenderAlarmText(text string, m Measurement) string {
	return renderAlarmText(text, FormatValue(m.Value)+" "+m.Unit)
}

func renderAlarmText(text, replacement string) string {
	return fasttemplate.ExecuteFuncString(text, valuePlaceholder, ">", func(w io.Writer, tag string) (int, error) {
		if tag == "" {
			return w.Write([]byte(replacement))
		}
		// 形如 <valueX> 的片段原样保留，片段内部可能还有真正的 <value>
		return w.Write([]byte(valuePlaceholder + renderAlarmText(tag+">", replacement)))
	})
}

// FormatValue 以最短形式格式化 float32
func FormatValue(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}
