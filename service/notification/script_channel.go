/*
 * @module service/notification/script_channel
 * @description 脚本通知渠道，使用yaegi解释执行用户提供的Go脚本处理告警
 * @architecture 策略模式 - 脚本即发送策略
 * @stateFlow 首次发送编译脚本 -> 缓存Send函数 -> 每次告警调用
 * @rules 脚本体被包装为 func Send(alert map[string]interface{}) (bool, error)；编译失败视为发送失败；
 *        锁只保护编译，脚本执行在锁外且受 ctx 超时约束
 * @dependencies github.com/traefik/yaegi
 * @refs service/notification/channel.go
 */

package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// ScriptConfig 脚本渠道配置
type ScriptConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Name    string `json:"name" yaml:"name"`
	Script  string `json:"script" yaml:"script"`
}

type scriptSendFunc func(map[string]interface{}) (bool, error)

// ScriptChannel 脚本通知渠道
type ScriptChannel struct {
	config ScriptConfig

	mu      sync.Mutex
	fn      scriptSendFunc
	compErr error
}

// NewScriptChannel 创建脚本通知渠道
func NewScriptChannel(config ScriptConfig) *ScriptChannel {
	if config.Name == "" {
		config.Name = "script"
	}
	return &ScriptChannel{config: config}
}

// GetName 获取渠道名称
func (s *ScriptChannel) GetName() string {
	return s.config.Name
}

// IsEnabled 检查是否启用
func (s *ScriptChannel) IsEnabled() bool {
	return s.config.Enabled && s.config.Script != ""
}

// Send 调用脚本的Send函数
func (s *ScriptChannel) Send(ctx context.Context, alert PerformanceAlert, actx AlertContext) (bool, error) {
	if !s.IsEnabled() {
		return false, nil
	}

	fn, err := s.compiled()
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	input := scriptInput(alert, actx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("脚本执行异常: %v", r)}
			}
		}()
		ok, err := fn(input)
		done <- result{ok: ok, err: err}
	}()

	select {
	case res := <-done:
		return res.ok, res.err
	case <-ctx.Done():
		return false, fmt.Errorf("脚本执行超时: %w", ctx.Err())
	}
}

// compiled 返回缓存的脚本函数，首次调用时编译
func (s *ScriptChannel) compiled() (scriptSendFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fn == nil && s.compErr == nil {
		s.fn, s.compErr = compileAlertScript(s.config.Script)
	}
	return s.fn, s.compErr
}

// ValidateScript 校验脚本能否编译
func ValidateScript(script string) error {
	_, err := compileAlertScript(script)
	return err
}

func compileAlertScript(script string) (scriptSendFunc, error) {
	if script == "" {
		return nil, errors.New("脚本内容为空")
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库失败: %w", err)
	}

	wrapped := fmt.Sprintf(`
package main

import (
	"fmt"
	"strings"
)

var _ = fmt.Sprintf
var _ = strings.ToUpper

func Send(alert map[string]interface{}) (bool, error) {
%s
}
`, script)

	if _, err := i.Eval(wrapped); err != nil {
		return nil, fmt.Errorf("脚本编译失败: %w", err)
	}

	v, err := i.Eval("Send")
	if err != nil {
		return nil, fmt.Errorf("脚本缺少 Send 函数: %w", err)
	}

	fn, ok := v.Interface().(func(map[string]interface{}) (bool, error))
	if !ok {
		return nil, errors.New("Send 函数签名必须是 func(map[string]interface{}) (bool, error)")
	}
	return fn, nil
}

func scriptInput(alert PerformanceAlert, actx AlertContext) map[string]interface{} {
	alertContext := make(map[string]interface{}, len(alert.Context))
	for k, v := range alert.Context {
		alertContext[k] = v
	}
	return map[string]interface{}{
		"type":        string(alert.Type),
		"severity":    string(alert.Severity),
		"message":     alert.Message,
		"context":     alertContext,
		"route":       actx.RouteName,
		"environment": actx.Environment,
		"http_method": actx.HTTPMethod,
		"record_id":   actx.RecordID,
	}
}
