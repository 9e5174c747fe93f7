// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger 简单封装，供 internal 使用
type Logger struct {
	*slog.Logger
	out    io.Writer
	closer io.Closer
}

// Config 日志配置（可与 config 包对接）
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ParseLevel 将配置中的级别字符串转为 slog.Level，未知值按 info 处理
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger 根据配置创建 Logger，cfg 可为 nil 使用默认
func NewLogger(cfg *Config) (*Logger, error) {
	level := slog.LevelInfo
	var out io.Writer = os.Stdout
	var closer io.Closer
	if cfg != nil {
		level = ParseLevel(cfg.Level)
		if cfg.File != "" {
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return nil, fmt.Errorf("打开日志文件失败: %w", err)
			}
			out, closer = f, f
		}
	}
	return &Logger{Logger: slog.New(newHandler(out, cfg, level)), out: out, closer: closer}, nil
}

// NewWithWriter 输出到指定 writer，主要用于测试与 CLI
func NewWithWriter(w io.Writer, cfg *Config) *Logger {
	level := slog.LevelInfo
	if cfg != nil {
		level = ParseLevel(cfg.Level)
	}
	return &Logger{Logger: slog.New(newHandler(w, cfg, level)), out: w}
}

func newHandler(w io.Writer, cfg *Config, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// Writer 返回日志输出目标，供 Hertz 等组件共用
func (l *Logger) Writer() io.Writer {
	if l == nil || l.out == nil {
		return os.Stdout
	}
	return l.out
}

// Close 关闭日志文件（若有）
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
