package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agenthub/router"
	"github.com/hupe1980/agenthub/runtime"
)

// LoadAgent reads an agent definition from a YAML file.
//
//	id: support
//	provider: openai
//	model: gpt-4
//	system_prompt: You answer billing questions.
//	tools: [calculator]
//	rag_enabled: true
//	knowledge_base_ids: [billing]
//	routing_policy: quality
//	timeout: 60s
func LoadAgent(path string) (*runtime.AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent: %w", err)
	}
	return ParseAgent(data)
}

// ParseAgent decodes and validates an agent definition.
func ParseAgent(data []byte) (*runtime.AgentConfig, error) {
	var cfg runtime.AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse agent: %w", err)
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("parse agent: id is required")
	}
	policy, err := router.ParsePolicy(string(cfg.RoutingPolicy))
	if err != nil {
		return nil, fmt.Errorf("parse agent %s: %w", cfg.ID, err)
	}
	cfg.RoutingPolicy = policy
	if cfg.Timeout < 0 || cfg.MaxIterations < 0 || cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("parse agent %s: negative limits are not allowed", cfg.ID)
	}
	return &cfg, nil
}
