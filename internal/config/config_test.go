package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Neo4jURI != "neo4j://localhost:7687" {
		t.Errorf("expected Neo4jURI neo4j://localhost:7687, got %v", cfg.Neo4jURI)
	}
	if cfg.Neo4jUser != "neo4j" {
		t.Errorf("expected Neo4jUser neo4j, got %v", cfg.Neo4jUser)
	}
	if cfg.OutputDir != "./output" {
		t.Errorf("expected OutputDir ./output, got %v", cfg.OutputDir)
	}
	if cfg.NeedsSource() {
		t.Error("no endpoint or sqlite path configured, NeedsSource must be false")
	}
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("GL_SOURCE_ENDPOINT", "https://data.example.com/v1/graphql")
	t.Setenv("GL_SOURCE_ROLE", "reader")
	t.Setenv("GL_SOURCE_SECRET", "s3cret")
	t.Setenv("GL_NEO4J_URI", "neo4j+s://prod:7687")
	t.Setenv("GL_NEO4J_PASSWORD", "pw")
	t.Setenv("GL_OUTPUT_DIR", "/tmp/bulk")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SourceEndpoint != "https://data.example.com/v1/graphql" {
		t.Errorf("SourceEndpoint = %v", cfg.SourceEndpoint)
	}
	if cfg.SourceRole != "reader" || cfg.SourceSecret != "s3cret" {
		t.Errorf("source auth = %v / %v", cfg.SourceRole, cfg.SourceSecret)
	}
	if cfg.Neo4jURI != "neo4j+s://prod:7687" {
		t.Errorf("Neo4jURI = %v", cfg.Neo4jURI)
	}
	if cfg.OutputDir != "/tmp/bulk" {
		t.Errorf("OutputDir = %v", cfg.OutputDir)
	}
	if !cfg.NeedsSource() {
		t.Error("endpoint configured, NeedsSource must be true")
	}
}

func TestLoadRejectsNonHTTPEndpoint(t *testing.T) {
	os.Clearenv()
	t.Setenv("GL_SOURCE_ENDPOINT", "ftp://nope")

	if _, err := Load(); err == nil {
		t.Error("expected validation error for non-http endpoint")
	}
}

func TestSQLiteSourceCountsAsSource(t *testing.T) {
	os.Clearenv()
	t.Setenv("GL_SQLITE_PATH", "/data/extract.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.NeedsSource() {
		t.Error("sqlite path configured, NeedsSource must be true")
	}
}

func TestValidateMissingOutputDir(t *testing.T) {
	cfg := &Config{Neo4jURI: "neo4j://localhost:7687"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty OutputDir")
	}
}
