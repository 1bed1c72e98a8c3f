// Package config holds all environmentally dependent settings for a pipeline
// run. The mapping document configures WHAT to build; this package configures
// WHERE to read from and write to.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// Source GraphQL endpoint and its auth headers.
	SourceEndpoint string `env:"GL_SOURCE_ENDPOINT"`
	SourceRole     string `env:"GL_SOURCE_ROLE"`
	SourceSecret   string `env:"GL_SOURCE_SECRET"`

	// Local SQLite extract used instead of the endpoint when set.
	SQLitePath string `env:"GL_SQLITE_PATH"`

	// Target Neo4j database.
	Neo4jURI      string `env:"GL_NEO4J_URI" envDefault:"neo4j://localhost:7687"`
	Neo4jUser     string `env:"GL_NEO4J_USER" envDefault:"neo4j"`
	Neo4jPassword string `env:"GL_NEO4J_PASSWORD"`
	Neo4jDatabase string `env:"GL_NEO4J_DATABASE" envDefault:""`

	// Run manifest database; empty disables manifest recording.
	ManifestPath string `env:"GL_MANIFEST_PATH" envDefault:""`

	OutputDir string `env:"GL_OUTPUT_DIR" envDefault:"./output"`
}

// NeedsSource reports whether this run must be able to fetch rows.
func (c *Config) NeedsSource() bool {
	return c.SourceEndpoint != "" || c.SQLitePath != ""
}

func (c *Config) Validate() error {
	if c.SourceEndpoint != "" && !strings.HasPrefix(c.SourceEndpoint, "http") {
		return fmt.Errorf("GL_SOURCE_ENDPOINT must be an http(s) URL")
	}
	if c.Neo4jURI == "" {
		return fmt.Errorf("GL_NEO4J_URI is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("GL_OUTPUT_DIR is required")
	}
	return nil
}

// Load reads the environment, after merging in a .env file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
