package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/haasonsaas/conductor/internal/config"
)

func TestBuildRootCmdHasSubcommands(t *testing.T) {
	root := buildRootCmd()
	want := map[string]bool{"run": false, "serve": false, "sessions": false, "version": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCommandOutput(t *testing.T) {
	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "conductor") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestApplyRunFlagsMemoryTool(t *testing.T) {
	tests := []struct {
		memoryTool string
		strategy   string
		wantErr    bool
	}{
		{"compactify-memory", "summarize", false},
		{"simple", "truncate", false},
		{"none", "none", false},
		{"", "truncate", false},
		{"bogus", "", true},
	}
	for _, tt := range tests {
		cfg := config.Default()
		err := applyRunFlags(cfg, runFlags{memoryTool: tt.memoryTool})
		if tt.wantErr {
			if err == nil {
				t.Errorf("memory-tool %q: expected error", tt.memoryTool)
			}
			continue
		}
		if err != nil {
			t.Errorf("memory-tool %q: %v", tt.memoryTool, err)
			continue
		}
		if cfg.Context.Strategy != tt.strategy {
			t.Errorf("memory-tool %q: strategy = %q, want %q",
				tt.memoryTool, cfg.Context.Strategy, tt.strategy)
		}
	}
}

func TestApplyRunFlagsOverrides(t *testing.T) {
	cfg := config.Default()
	err := applyRunFlags(cfg, runFlags{
		modelName:       "claude-sonnet-4-5",
		llmClient:       "openai",
		maxTurns:        17,
		maxOutputTokens: 2048,
		reviewer:        true,
	})
	if err != nil {
		t.Fatalf("applyRunFlags: %v", err)
	}
	if cfg.LLM.Model != "claude-sonnet-4-5" || cfg.LLM.Client != "openai" {
		t.Fatalf("llm overrides not applied: %+v", cfg.LLM)
	}
	if cfg.Agent.MaxTurns != 17 || !cfg.Agent.Reviewer {
		t.Fatalf("agent overrides not applied: %+v", cfg.Agent)
	}
	if cfg.LLM.MaxOutputTokens != 2048 {
		t.Fatalf("max output tokens = %d", cfg.LLM.MaxOutputTokens)
	}
}
