package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Providers    []ProviderConfig   `json:"providers"`
	Routing      RoutingConfig      `json:"routing"`
	Budget       BudgetConfig       `json:"budget"`
	Memory       MemoryConfig       `json:"memory"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Conference   ConferenceConfig   `json:"conference"`
	Database     DatabaseConfig     `json:"database"`
	Embedding    EmbeddingConfig    `json:"embedding"`
}

type ServerConfig struct {
	Port int `json:"port"`
}

type ProviderConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
}

// RoutingConfig selects which provider handles which task type.
type RoutingConfig struct {
	Primary  string            `json:"primary"`
	Fallback string            `json:"fallback"`
	Models   map[string]string `json:"models,omitempty"` // task type -> model name
}

// BudgetConfig bounds daily language-model spend.
type BudgetConfig struct {
	DailyLimitTokens    int     `json:"daily_limit_tokens"`
	PerRequestMaxTokens int     `json:"per_request_max_tokens"`
	CuriosityDailyOps   int     `json:"curiosity_daily_ops"`
	CuriosityPerOpToken int     `json:"curiosity_per_op_tokens"`
	WarningThreshold    float64 `json:"warning_threshold"`
	HardStop            bool    `json:"hard_stop"`
	ResetHour           int     `json:"reset_hour"`
	StatePath           string  `json:"state_path"`
}

type MemoryConfig struct {
	WorkingSlots                 int     `json:"working_memory_slots"`
	HebbianLearningRate          float64 `json:"hebbian_learning_rate"`
	SemanticDecayRate            float64 `json:"semantic_decay_rate"`
	MaxEpisodes                  int     `json:"max_episodes"`
	FreshnessHalfLifeHours       float64 `json:"freshness_half_life_hours"`
	ConsolidationIntervalMinutes int     `json:"consolidation_interval_minutes"`
	CuriosityIntervalMinutes     int     `json:"curiosity_interval_minutes"`
}

type OrchestratorConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MinTriggerHits      int     `json:"min_trigger_hits"`
	ShortQueryMaxWords  int     `json:"short_query_max_words"`
	HistoryMessages     int     `json:"history_messages"`
}

type ConferenceConfig struct {
	MaxRounds          int     `json:"max_rounds"`
	ParticipantTimeout int     `json:"participant_timeout_seconds"`
	AgreementQuorum    float64 `json:"agreement_quorum"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Defaults returns a Config with every tunable at its baseline value.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: 3210},
		Budget: BudgetConfig{
			DailyLimitTokens:    100000,
			PerRequestMaxTokens: 4000,
			CuriosityDailyOps:   20,
			CuriosityPerOpToken: 500,
			WarningThreshold:    0.8,
			HardStop:            true,
			ResetHour:           0,
			StatePath:           "data/budget_state.json",
		},
		Memory: MemoryConfig{
			WorkingSlots:                 7,
			HebbianLearningRate:          0.1,
			SemanticDecayRate:            0.01,
			MaxEpisodes:                  10000,
			FreshnessHalfLifeHours:       24,
			ConsolidationIntervalMinutes: 30,
			CuriosityIntervalMinutes:     5,
		},
		Orchestrator: OrchestratorConfig{
			ConfidenceThreshold: 0.6,
			MinTriggerHits:      2,
			ShortQueryMaxWords:  5,
			HistoryMessages:     16,
		},
		Conference: ConferenceConfig{
			MaxRounds:          3,
			ParticipantTimeout: 25,
			AgreementQuorum:    0.6,
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
// Fields absent from the file keep their Defaults() values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Defaults()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
