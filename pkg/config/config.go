// Package config loads the engine's runtime configuration and the
// workflow documents it executes. Runtime settings layer defaults, an
// optional YAML file, and TAXIS_-prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	Providers ProvidersConfig `koanf:"providers"`
	Memory    MemoryConfig    `koanf:"memory"`
	Audit     AuditConfig     `koanf:"audit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Engine    EngineConfig    `koanf:"engine"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type ProvidersConfig struct {
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Anthropic AnthropicConfig `koanf:"anthropic"`
	Ollama    OllamaConfig    `koanf:"ollama"`
}

type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type AnthropicConfig struct {
	APIKey string `koanf:"api_key"`
}

type OllamaConfig struct {
	BaseURL string `koanf:"base_url"`
}

type MemoryConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Provider        string        `koanf:"provider"` // qdrant, inprocess
	QdrantAddr      string        `koanf:"qdrant_addr"`
	Collection      string        `koanf:"collection"`
	EmbedderBaseURL string        `koanf:"embedder_base_url"`
	EmbedderModel   string        `koanf:"embedder_model"`
	RetrieveTimeout time.Duration `koanf:"retrieve_timeout"`
	PersistTimeout  time.Duration `koanf:"persist_timeout"`
}

type AuditConfig struct {
	Path string `koanf:"path"` // SQLite file, empty disables persistence
}

type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Exporter string `koanf:"exporter"` // stdout, otlp
	Endpoint string `koanf:"endpoint"`
}

type EngineConfig struct {
	MaxToolIterations int           `koanf:"max_tool_iterations"`
	StepTimeout       time.Duration `koanf:"step_timeout"`
}

var k = koanf.New(".")

func Load(path string) (*Config, error) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("server.addr", ":8080")

	k.Set("providers.ollama.base_url", "http://localhost:11434")

	k.Set("memory.enabled", false)
	k.Set("memory.provider", "qdrant")
	k.Set("memory.qdrant_addr", "localhost:6334")
	k.Set("memory.collection", "taxis_memory")
	k.Set("memory.embedder_base_url", "http://localhost:11434")
	k.Set("memory.embedder_model", "nomic-embed-text")
	k.Set("memory.retrieve_timeout", "5s")
	k.Set("memory.persist_timeout", "10s")

	k.Set("audit.path", "")

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")

	k.Set("engine.max_tool_iterations", 5)
	k.Set("engine.step_timeout", "120s")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (TAXIS_MEMORY_ENABLED -> memory.enabled)
	if err := k.Load(env.Provider("TAXIS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TAXIS_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
