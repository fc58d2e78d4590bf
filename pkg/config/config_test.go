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
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
api:
  port: 9000
  host: "127.0.0.1"
store:
  addr: "localhost:6379"
  session_ttl: "12h"
hunt:
  default_parallel_workers: 8
log:
  level: "debug"
`
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port: got %d", cfg.API.Port)
	}
	if cfg.Store.Addr != "localhost:6379" {
		t.Errorf("Store.Addr: got %q", cfg.Store.Addr)
	}
	if cfg.Store.SessionTTL != "12h" {
		t.Errorf("Store.SessionTTL: got %q", cfg.Store.SessionTTL)
	}
	if cfg.Hunt.DefaultParallelWorkers != 8 {
		t.Errorf("Hunt.DefaultParallelWorkers: got %d", cfg.Hunt.DefaultParallelWorkers)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
}

func TestLoadConfig_EnvVarAPIKey(t *testing.T) {
	dir := t.TempDir()
	yaml := `
model:
  providers:
    openrouter:
      api_key: "${TEST_HUNT_OPENROUTER_KEY}"
      base_url: "https://openrouter.ai/api/v1"
`
	path := filepath.Join(dir, "model.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	t.Setenv("TEST_HUNT_OPENROUTER_KEY", "sk-test-123")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	got := cfg.Model.Providers["openrouter"].APIKey
	if got != "sk-test-123" {
		t.Errorf("APIKey: got %q, want env value", got)
	}
}
