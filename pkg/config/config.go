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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigPath CLI 与服务默认读取的配置文件
const DefaultConfigPath = "configs/arp.yaml"

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig 只读查询 API 配置
type APIConfig struct {
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	Timeout string `mapstructure:"timeout"`
}

// CheckpointConfig 检查点生成相关配置
type CheckpointConfig struct {
	HashLength int    `mapstructure:"hash_length"` // state_hash 十六进制长度，16（默认）或 64（完整 SHA-256）
	Interval   string `mapstructure:"interval"`    // 周期检查点间隔，如 "300s"；空或 0 表示不启用
}

// StorageConfig 多层存储配置
type StorageConfig struct {
	Fast       FastTierConfig    `mapstructure:"fast"`
	Archive    ArchiveTierConfig `mapstructure:"archive"`
	Locators   []string          `mapstructure:"locators"`     // 内容寻址定位符方案，如 ["ipfs","arweave"]
	WarmOnLoad bool              `mapstructure:"warm_on_load"` // 快速层未命中、从归档层加载后是否回填快速层
}

// FastTierConfig 快速层（每个 agent 仅保留最新记录）
type FastTierConfig struct {
	Type      string `mapstructure:"type"` // memory | file | redis
	Dir       string `mapstructure:"dir"`  // type=file 时的目录
	Addr      string `mapstructure:"addr"`
	DB        int    `mapstructure:"db"`
	Password  string `mapstructure:"password"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ArchiveTierConfig 归档层（每个 (agent_id, sequence) 一条，只追加）
type ArchiveTierConfig struct {
	Type     string `mapstructure:"type"` // memory | file | postgres | sqlite | s3
	Dir      string `mapstructure:"dir"`  // type=file 时的目录
	DSN      string `mapstructure:"dsn"`  // postgres 连接串或 sqlite 文件路径
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // 可选，MinIO/LocalStack 等自定义 endpoint
	Prefix   string `mapstructure:"prefix"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8090)
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("checkpoint.hash_length", 16)
	v.SetDefault("checkpoint.interval", "300s")
	v.SetDefault("storage.fast.type", "memory")
	v.SetDefault("storage.fast.dir", "./checkpoints")
	v.SetDefault("storage.fast.addr", "localhost:6379")
	v.SetDefault("storage.fast.db", 0)
	v.SetDefault("storage.fast.password", "")
	v.SetDefault("storage.fast.key_prefix", "arp")
	v.SetDefault("storage.archive.type", "file")
	v.SetDefault("storage.archive.dir", "./checkpoints")
	v.SetDefault("storage.archive.dsn", "")
	v.SetDefault("storage.archive.bucket", "")
	v.SetDefault("storage.archive.region", "")
	v.SetDefault("storage.archive.endpoint", "")
	v.SetDefault("storage.archive.prefix", "checkpoints/")
	v.SetDefault("storage.locators", []string{"ipfs", "arweave"})
	v.SetDefault("storage.warm_on_load", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("monitoring.prometheus.enable", true)
	v.SetDefault("monitoring.tracing.enable", false)
	v.SetDefault("monitoring.tracing.service_name", "arp")
	v.SetDefault("monitoring.tracing.export_endpoint", "")
	v.SetDefault("monitoring.tracing.insecure", false)
}

// LoadConfig 加载配置文件；configPath 为空时仅使用默认值与环境变量（ARP_ 前缀）
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ARP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadDefault 加载 DefaultConfigPath；文件不存在时退回默认值
func LoadDefault() (*Config, error) {
	if _, err := os.Stat(DefaultConfigPath); err != nil {
		return LoadConfig("")
	}
	return LoadConfig(DefaultConfigPath)
}

// replaceEnvVars 替换配置中 ${VAR} 形式的敏感字段
func replaceEnvVars(config *Config) {
	config.Storage.Fast.Password = expandEnv(config.Storage.Fast.Password)
	config.Storage.Archive.DSN = expandEnv(config.Storage.Archive.DSN)
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "$") {
		return s
	}
	envVar := strings.TrimPrefix(strings.TrimSuffix(s, "}"), "${")
	envVar = strings.TrimPrefix(envVar, "$")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Checkpoint.HashLength < 16 || c.Checkpoint.HashLength > 64 {
		return fmt.Errorf("checkpoint.hash_length 必须在 16 到 64 之间: %d", c.Checkpoint.HashLength)
	}
	if _, err := c.Checkpoint.IntervalDuration(); err != nil {
		return err
	}
	switch c.Storage.Fast.Type {
	case "", "memory", "file", "redis":
	default:
		return fmt.Errorf("不支持的快速层类型: %s", c.Storage.Fast.Type)
	}
	switch c.Storage.Archive.Type {
	case "", "memory", "file", "postgres", "sqlite", "s3":
	default:
		return fmt.Errorf("不支持的归档层类型: %s", c.Storage.Archive.Type)
	}
	return nil
}

// IntervalDuration 解析周期检查点间隔，空字符串返回 0
func (c CheckpointConfig) IntervalDuration() (time.Duration, error) {
	if c.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0, fmt.Errorf("checkpoint.interval 无效: %w", err)
	}
	return d, nil
}

// Addr 返回 API 监听地址
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
