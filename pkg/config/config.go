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
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Hunt       HuntConfig       `mapstructure:"hunt"`
	Store      StoreConfig      `mapstructure:"store"`
	JobLog     JobLogConfig     `mapstructure:"joblog"`
	ReviewLog  ReviewLogConfig  `mapstructure:"reviewlog"`
	Review     ReviewConfig     `mapstructure:"review"`
	Model      ModelConfig      `mapstructure:"model"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置（Auth 开启时 review/admin 路由要求 JWT）
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
}

// WorkerConfig Worker 服务配置（Job Pipeline 消费端）
type WorkerConfig struct {
	BlockTimeout       string `mapstructure:"block_timeout"`        // 组读阻塞时长，空则默认 5s
	StaleCheckInterval string `mapstructure:"stale_check_interval"` // pending 巡检间隔，空则默认 10s
	HeartbeatTTL       string `mapstructure:"heartbeat_ttl"`        // 心跳 key TTL，空则默认 30s
	Concurrency        int    `mapstructure:"concurrency"`          // 同时执行的 Job 数上限，<=0 默认 2
}

// HuntConfig Hunt 运行默认值与超时
type HuntConfig struct {
	DefaultParallelWorkers int    `mapstructure:"default_parallel_workers"` // [1,16]，默认 4
	DefaultTargetBreaks    int    `mapstructure:"default_target_breaks"`    // [1,workers]，默认 1
	DefaultMaxRetries      int    `mapstructure:"default_max_retries"`      // 默认 3
	ModelTimeout           string `mapstructure:"model_timeout"`            // 缓冲式调用超时，默认 120s
	StreamTimeout          string `mapstructure:"stream_timeout"`           // 流式调用超时，默认 180s
	JudgeTimeout           string `mapstructure:"judge_timeout"`            // 单 criterion 评审超时，默认 120s
}

// StoreConfig Session/事件/Job 共享的 Redis 后端配置
type StoreConfig struct {
	Addr       string `mapstructure:"addr"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	SessionTTL string `mapstructure:"session_ttl"` // Session key TTL，空则默认 24h
}

// JobLogConfig 共享 Job 日志配置（hunt_jobs Stream）
type JobLogConfig struct {
	Enabled *bool `mapstructure:"enabled"` // false 时 API 同步执行（单进程模式）；未配置默认 true
	MaxLen  int64 `mapstructure:"max_len"` // Stream 近似截断长度，<=0 默认 500
}

// ReviewLogConfig 审核状态流转审计存储配置
type ReviewLogConfig struct {
	Type string `mapstructure:"type"` // memory | postgres
	DSN  string `mapstructure:"dsn"`  // Postgres 连接串，type=postgres 时必填
}

// ReviewConfig 审核可见范围：admin 可见全部 session，
// 普通 reviewer 只能看到其 pod 允许名单内 trainer 创建的 session
type ReviewConfig struct {
	Admins []string            `mapstructure:"admins"` // admin reviewer 邮箱
	Pods   map[string][]string `mapstructure:"pods"`   // reviewer 邮箱 -> trainer 允许名单
}

// ModelConfig 模型配置
type ModelConfig struct {
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	JudgeModels []string                  `mapstructure:"judge_models"`
	Defaults    DefaultsConfig            `mapstructure:"defaults"`
}

// ProviderConfig 模型提供商配置
type ProviderConfig struct {
	APIKey  string   `mapstructure:"api_key"`
	BaseURL string   `mapstructure:"base_url"`
	Models  []string `mapstructure:"models"`
}

// DefaultsConfig 默认模型配置
type DefaultsConfig struct {
	Provider   string `mapstructure:"provider"`    // openrouter | fireworks
	JudgeModel string `mapstructure:"judge_model"` // 评审模型 id
}

// RateLimitsConfig 限流配置（按 Provider）
type RateLimitsConfig struct {
	Providers map[string]ProviderRateLimitConfig `mapstructure:"providers"`
}

// ProviderRateLimitConfig 单 Provider 的限流配置
type ProviderRateLimitConfig struct {
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
}

// SecretsConfig 密钥来源配置
type SecretsConfig struct {
	Provider     string `mapstructure:"provider"`      // env | vault | memory
	VaultAddress string `mapstructure:"vault_address"` // Vault 服务地址，如 http://vault:8200
	VaultToken   string `mapstructure:"vault_token"`
	VaultPath    string `mapstructure:"vault_path"` // KV v2 路径，如 secret/data/hunt
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

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// replaceEnvVars 替换配置中的环境变量（api_key: "${OPENROUTER_API_KEY}" 形式）
func replaceEnvVars(config *Config) {
	for provider, providerConfig := range config.Model.Providers {
		if strings.HasPrefix(providerConfig.APIKey, "$") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(providerConfig.APIKey, "}"), "${")
			if val := os.Getenv(envVar); val != "" {
				providerConfig.APIKey = val
				config.Model.Providers[provider] = providerConfig
			}
		}
	}
	if strings.HasPrefix(config.Secrets.VaultToken, "$") {
		envVar := strings.TrimPrefix(strings.TrimSuffix(config.Secrets.VaultToken, "}"), "${")
		if val := os.Getenv(envVar); val != "" {
			config.Secrets.VaultToken = val
		}
	}
	if strings.HasPrefix(config.Store.Password, "$") {
		envVar := strings.TrimPrefix(strings.TrimSuffix(config.Store.Password, "}"), "${")
		if val := os.Getenv(envVar); val != "" {
			config.Store.Password = val
		}
	}
}

// LoadAPIConfig 加载 API 配置（仅 configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadAPIConfigWithModel 加载 API 配置并合并 model 配置，便于 API 直接调用 LLM（同步模式）
func LoadAPIConfigWithModel() (*Config, error) {
	cfg, err := LoadConfig("configs/api.yaml")
	if err != nil {
		return nil, err
	}
	modelCfg, err := LoadConfig("configs/model.yaml")
	if err == nil {
		cfg.Model = modelCfg.Model
	}
	return cfg, nil
}

// LoadWorkerConfigWithModel 加载 Worker 配置并合并 model 配置。
// model 路径解析为与 worker 配置同目录（configs/），避免 cwd 导致 model.yaml 未加载。
func LoadWorkerConfigWithModel() (*Config, error) {
	cfg, err := LoadConfig("configs/worker.yaml")
	if err != nil {
		return nil, err
	}
	modelPath := "configs/model.yaml"
	if absWorker, errAbs := filepath.Abs("configs/worker.yaml"); errAbs == nil {
		modelPath = filepath.Join(filepath.Dir(absWorker), "model.yaml")
	}
	modelCfg, err := LoadConfig(modelPath)
	if err == nil {
		cfg.Model = modelCfg.Model
	} else {
		log.Printf("[config] 未加载 model 配置 %q，Worker 将无 LLM 配置: %v", modelPath, err)
	}
	return cfg, nil
}
