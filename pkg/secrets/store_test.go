package secrets

import (
	"context"
	"strings"
	"testing"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		name        string
		provider    string
		wantErr     bool
		errContains string
	}{
		{name: "memory", provider: "memory", wantErr: false},
		{name: "default is memory", provider: "", wantErr: false},
		{name: "env", provider: "env", wantErr: false},
		{name: "unknown provider", provider: "unknown", wantErr: true, errContains: "unsupported secret provider"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewStore(Config{Provider: tc.provider})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				if tc.errContains != "" && !strings.Contains(err.Error(), tc.errContains) {
					t.Errorf("error %q should contain %q", err.Error(), tc.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStore: %v", err)
			}
			if store == nil {
				t.Fatal("store is nil")
			}
		})
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Set(ctx, "openrouter_api_key", "sk-or-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get(ctx, "openrouter_api_key")
	if err != nil || v != "sk-or-1" {
		t.Fatalf("Get: got %q, %v", v, err)
	}
	keys, err := s.List(ctx, "openrouter")
	if err != nil || len(keys) != 1 {
		t.Fatalf("List: got %v, %v", keys, err)
	}
	if err := s.Delete(ctx, "openrouter_api_key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "openrouter_api_key"); err == nil {
		t.Error("Get after Delete should fail")
	}
}

func TestProviderAPIKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if got := ProviderAPIKey(ctx, s, "fireworks", "cfg-key"); got != "cfg-key" {
		t.Errorf("miss should fall back to config value, got %q", got)
	}
	_ = s.Set(ctx, "fireworks_api_key", "fw-1")
	if got := ProviderAPIKey(ctx, s, "fireworks", "cfg-key"); got != "fw-1" {
		t.Errorf("store hit should win, got %q", got)
	}
	if got := ProviderAPIKey(ctx, nil, "fireworks", "cfg-key"); got != "cfg-key" {
		t.Errorf("nil store should fall back, got %q", got)
	}
}
