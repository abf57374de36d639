/*
 * @module logger/logger
 * @description 全局日志初始化，日志开关在启动时解析一次，组件构造时注入 *slog.Logger
 * @architecture 基础设施层
 * @stateFlow 读取配置 -> 初始化处理器 -> 设置默认日志记录器
 * @rules 日志开关只在进程启动时确定，运行期不再重复解析
 * @dependencies log/slog
 */

package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

// InitLogger 初始化全局日志记录器
// 创建 JSON 格式的日志处理器,输出到 stdout；关闭时所有日志被丢弃
func InitLogger(isEnabled bool, level string) {
	initLogger(os.Stdout, isEnabled, level)
}

func initLogger(w io.Writer, isEnabled bool, level string) {
	enabled.Store(isEnabled)

	var handler slog.Handler
	if isEnabled {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: parseLevel(level),
		})
	} else {
		handler = slog.NewJSONHandler(io.Discard, nil)
	}
	slog.SetDefault(slog.New(handler))
}

// Enabled 返回启动时确定的日志开关
func Enabled() bool {
	return enabled.Load()
}

// Component 返回带组件标识的日志记录器
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
