package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/photo-stacker/internal/constants"
)

//go:embed rules.yaml
var rulesYAML []byte

type Config struct {
	Scanner   ScannerConfig
	Embedding EmbeddingConfig
	Database  DatabaseConfig
	Rules     RulesConfig
}

// ScannerConfig describes the file-scanner collaborator. The scanner indexes
// the media library and exposes its file-occurrence rows in MariaDB; the
// sync command mirrors them into the local media_file table.
type ScannerConfig struct {
	DatabaseURL string // MariaDB DSN (e.g., scanner:scanner@tcp(mariadb:3306)/scanner)
	MediaRoot   string // Filesystem root the scanner paths are relative to
}

type EmbeddingConfig struct {
	URL string // defaults to http://localhost:8000
	Dim int    // defaults to 768
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// RulesConfig holds the embedded stack-generation defaults.
type RulesConfig struct {
	Rules StackRules `yaml:"rules"`
}

// StackRules is the typed parameter record for one generation run. It is
// serialized to JSON only at the storage boundary (media_stack_meta).
type StackRules struct {
	RuleVersion          string  `yaml:"rule_version" json:"rule_version"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	HammingThreshold     int     `yaml:"hamming_threshold" json:"hamming_threshold"`
	CaptureWindowSeconds int     `yaml:"capture_window_seconds" json:"capture_window_seconds"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func Load() *Config {
	var rules RulesConfig
	if err := yaml.Unmarshal(rulesYAML, &rules); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded rules.yaml: " + err.Error())
	}
	applyRuleDefaults(&rules.Rules)

	return &Config{
		Scanner: ScannerConfig{
			DatabaseURL: os.Getenv("SCANNER_DATABASE_URL"),
			MediaRoot:   os.Getenv("SCANNER_MEDIA_ROOT"),
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
			Dim: envInt("EMBEDDING_DIM", 768),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Rules: rules,
	}
}

// applyRuleDefaults fills any field the embedded rules file leaves unset,
// so a trimmed rules.yaml cannot produce a zero threshold.
func applyRuleDefaults(r *StackRules) {
	if r.RuleVersion == "" {
		r.RuleVersion = constants.DefaultRuleVersion
	}
	if r.SimilarityThreshold <= 0 {
		r.SimilarityThreshold = constants.DefaultSimilarityThreshold
	}
	if r.HammingThreshold <= 0 {
		r.HammingThreshold = constants.DefaultHammingThreshold
	}
	if r.CaptureWindowSeconds <= 0 {
		r.CaptureWindowSeconds = constants.DefaultCaptureWindowSeconds
	}
}
