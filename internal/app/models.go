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

package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"hunt-platform/internal/hunt"
	"hunt-platform/internal/model/llm"
	"hunt-platform/pkg/config"
	"hunt-platform/pkg/secrets"
)

// NewCallerFactoryFromConfig 根据 config.Model 构造按 provider 解析模型客户端的工厂。
// API Key 优先走 Secret Store（"<provider>_api_key"），回退到配置内联值。
// 同一 provider 的客户端进程内只建一次，HTTP 连接池随之复用。
func NewCallerFactoryFromConfig(cfg *config.Config, secretStore secrets.Store) hunt.CallerFactory {
	var mu sync.Mutex
	cache := make(map[string]llm.Caller)

	return func(provider string) (llm.Caller, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := cache[provider]; ok {
			return c, nil
		}
		if cfg == nil {
			return nil, fmt.Errorf("model 配置为空，无法解析 provider %q", provider)
		}
		pc, ok := cfg.Model.Providers[provider]
		if !ok {
			return nil, fmt.Errorf("provider %q 未配置", provider)
		}
		apiKey := secrets.ProviderAPIKey(context.Background(), secretStore, provider, pc.APIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("provider %q 的 api_key 未配置", provider)
		}
		caller, err := llm.NewCaller(provider, apiKey, pc.BaseURL)
		if err != nil {
			return nil, err
		}
		cache[provider] = caller
		return caller, nil
	}
}

// KnownModels 汇总全部 provider 下配置的模型 id（去重、排序），供 /models 使用
func KnownModels(cfg *config.Config) (models, judgeModels []string) {
	if cfg == nil {
		return nil, nil
	}
	seen := make(map[string]struct{})
	for _, pc := range cfg.Model.Providers {
		for _, m := range pc.Models {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				models = append(models, m)
			}
		}
	}
	sort.Strings(models)
	return models, cfg.Model.JudgeModels
}
