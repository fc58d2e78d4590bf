// Copyright 2026 fanjia1024
// Secret management abstraction

package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Store Secret 存储接口
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error

	// Delete 删除 secret
	Delete(ctx context.Context, key string) error

	// List 列出所有 secret keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider     string `yaml:"provider"` // vault | env | memory
	VaultAddress string `yaml:"vault_address"`
	VaultToken   string `yaml:"vault_token"`
	VaultPath    string `yaml:"vault_path"`
}

// NewStore 创建 Secret Store
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "", "memory":
		return NewMemoryStore(), nil
	case "env":
		return NewEnvStore(), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    config.VaultAddress,
			Token:      config.VaultToken,
			PathPrefix: config.VaultPath,
		})
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Provider)
	}
}

// ProviderAPIKey 解析模型提供商 API Key：store 命中优先，否则返回 fallback（配置内联值）。
// key 约定为 "<provider>_api_key"，env provider 下即环境变量名大写（如 OPENROUTER_API_KEY）。
func ProviderAPIKey(ctx context.Context, store Store, provider, fallback string) string {
	if store == nil {
		return fallback
	}
	key := provider + "_api_key"
	if _, ok := store.(*envStore); ok {
		key = strings.ToUpper(key)
	}
	if v, err := store.Get(ctx, key); err == nil && v != "" {
		return v
	}
	return fallback
}
